package permission

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/platform/platformtest"
)

func newTestGate(t *testing.T) (*Gate, *platformtest.Fake, *event.Bus) {
	t.Helper()
	fake := platformtest.NewFake()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	g := NewGate(fake, bus, "chan-1", "sess-1")
	g.timeout = 200 * time.Millisecond
	return g, fake, bus
}

func TestGate_AutoApprove(t *testing.T) {
	g, fake, bus := newTestGate(t)

	var resolved []event.PermissionResolvedData
	bus.SubscribeAll(func(e event.Event) {
		if e.Type == event.PermissionResolved {
			resolved = append(resolved, e.Data.(event.PermissionResolvedData))
		}
	})

	g.Toggle()
	require.True(t, g.AutoApprove())

	ok := g.Resolve(context.Background(), "Bash", json.RawMessage(`{"command":"ls"}`))
	assert.True(t, ok)

	sent := fake.LastSent()
	require.NotNil(t, sent)
	assert.Contains(t, sent.Message.Content, "auto-approved")
	assert.Contains(t, sent.Message.Content, "Bash")
	assert.Empty(t, sent.Opts.Buttons, "auto-approval carries no buttons")

	assert.Eventually(t, func() bool {
		return len(resolved) == 1 && resolved[0].Granted && resolved[0].Auto
	}, time.Second, 10*time.Millisecond)
}

func TestGate_ManualAllow(t *testing.T) {
	g, fake, _ := newTestGate(t)

	done := make(chan bool, 1)
	go func() {
		done <- g.Resolve(context.Background(), "Edit", json.RawMessage(`{"path":"main.go"}`))
	}()

	// The request message appears with Allow/Deny buttons.
	require.Eventually(t, func() bool { return fake.LastSent() != nil }, time.Second, 5*time.Millisecond)
	sent := fake.LastSent()
	require.Len(t, sent.Opts.Buttons, 2)

	fake.ScriptButton(sent.Message.ID, ButtonAllow)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("resolve did not complete")
	}

	require.Eventually(t, func() bool { return len(fake.Edits) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, fake.Edits[0].Content, "allowed")
	assert.Empty(t, fake.Edits[0].Buttons, "buttons removed after resolution")
}

func TestGate_ManualDeny(t *testing.T) {
	g, fake, _ := newTestGate(t)

	done := make(chan bool, 1)
	go func() {
		done <- g.Resolve(context.Background(), "Bash", json.RawMessage(`{}`))
	}()

	require.Eventually(t, func() bool { return fake.LastSent() != nil }, time.Second, 5*time.Millisecond)
	fake.ScriptButton(fake.LastSent().Message.ID, ButtonDeny)

	assert.False(t, <-done)
	require.Eventually(t, func() bool { return len(fake.Edits) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, fake.Edits[0].Content, "denied")
}

func TestGate_ManualTimeout(t *testing.T) {
	g, fake, _ := newTestGate(t)

	ok := g.Resolve(context.Background(), "Bash", json.RawMessage(`{}`))
	assert.False(t, ok)

	require.Len(t, fake.Edits, 1)
	assert.Contains(t, fake.Edits[0].Content, "expired")
}

func TestGate_SendFailureDenies(t *testing.T) {
	g, fake, _ := newTestGate(t)
	fake.SendErr = assert.AnError

	ok := g.Resolve(context.Background(), "Bash", json.RawMessage(`{}`))
	assert.False(t, ok)
}

func TestGate_ToggleMidFlightDoesNotAffectPending(t *testing.T) {
	g, fake, _ := newTestGate(t)

	done := make(chan bool, 1)
	go func() {
		done <- g.Resolve(context.Background(), "Bash", json.RawMessage(`{}`))
	}()

	require.Eventually(t, func() bool { return fake.LastSent() != nil }, time.Second, 5*time.Millisecond)

	// Flipping the toggle now must not auto-resolve the pending request.
	g.Toggle()
	fake.ScriptButton(fake.LastSent().Message.ID, ButtonDeny)

	assert.False(t, <-done)
	assert.True(t, g.AutoApprove())
}

func TestPreviewInput(t *testing.T) {
	assert.Equal(t, "{}", previewInput(nil))

	out := previewInput(json.RawMessage(`{"a":1}`))
	assert.Contains(t, out, `"a": 1`)

	big := `{"data":"` + strings.Repeat("x", 2000) + `"}`
	out = previewInput(json.RawMessage(big))
	assert.True(t, strings.HasSuffix(out, "\n..."))
	assert.LessOrEqual(t, len(out), inputPreviewMax+4)

	// Invalid JSON still renders a bounded preview.
	out = previewInput(json.RawMessage("not-json"))
	assert.Equal(t, "not-json", out)
}
