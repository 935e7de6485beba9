package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcord/agentcord/internal/agent"
	"github.com/agentcord/agentcord/internal/config"
	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/platform"
	"github.com/agentcord/agentcord/internal/platform/platformtest"
	"github.com/agentcord/agentcord/internal/state"
)

type fixture struct {
	fake  *platformtest.Fake
	store *state.Store
	bus   *event.Bus
	orch  *Orchestrator
}

// newFixture wires an orchestrator against a stub agent script. All turns run
// gated, so scripts must consume the prompt line from stdin first.
func newFixture(t *testing.T, script string) *fixture {
	t.Helper()

	agentPath := filepath.Join(t.TempDir(), "agent")
	require.NoError(t, os.WriteFile(agentPath, []byte("#!/bin/sh\n"+script), 0755))

	fake := platformtest.NewFake()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	store.Put(state.Session{
		SessionID:  "sess-1",
		ChannelID:  "chan-1",
		WorkingDir: t.TempDir(),
		CreatedAt:  time.Now(),
	})
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	runner := agent.NewRunner(config.AgentConfig{Path: agentPath, Timeout: 10 * time.Second})
	return &fixture{
		fake:  fake,
		store: store,
		bus:   bus,
		orch:  New(fake, runner, store, nil, bus),
	}
}

func trigger(content string) platform.Message {
	return platform.Message{ID: "trigger-1", ChannelID: "chan-1", Content: content}
}

func TestHandlePrompt_SuccessfulTurn(t *testing.T) {
	f := newFixture(t, `
read prompt
echo '{"type":"result","is_error":false,"result":"All done"}'
`)

	f.orch.HandlePrompt(context.Background(), trigger("do the thing"))

	// Waiting indicator first, then the response.
	require.GreaterOrEqual(t, len(f.fake.Sent), 2)
	waiting := f.fake.Sent[0]
	assert.Equal(t, "⏳ Generating a response...", waiting.Message.Content)
	require.Len(t, waiting.Opts.Buttons, 2)
	assert.Equal(t, ButtonStop, waiting.Opts.Buttons[0].ID)
	assert.Equal(t, ButtonToggleAuto, waiting.Opts.Buttons[1].ID)
	assert.Contains(t, f.fake.Deleted, waiting.Message.ID)

	assert.Equal(t, "All done", f.fake.LastSent().Message.Content)

	sess, ok := f.store.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, 1, sess.MessageCount)
}

func TestHandlePrompt_EmptyPromptIgnored(t *testing.T) {
	f := newFixture(t, `read prompt`)

	f.orch.HandlePrompt(context.Background(), trigger("   \n  "))

	assert.Empty(t, f.fake.Sent)
}

func TestHandlePrompt_NoSessionIgnored(t *testing.T) {
	f := newFixture(t, `read prompt`)
	f.store.Remove("chan-1")

	f.orch.HandlePrompt(context.Background(), trigger("hello"))

	assert.Empty(t, f.fake.Sent)
}

func TestHandlePrompt_ErrorPrefixed(t *testing.T) {
	f := newFixture(t, `
read prompt
echo '{"type":"result","is_error":true,"errors":["something broke"]}'
`)

	f.orch.HandlePrompt(context.Background(), trigger("hello"))

	assert.Equal(t, "Error: something broke", f.fake.LastSent().Message.Content)
}

func TestHandlePrompt_AuthFailureGuidance(t *testing.T) {
	f := newFixture(t, `
read prompt
echo '{"type":"result","is_error":true,"errors":["Invalid API key. Please run /login"]}'
`)

	f.orch.HandlePrompt(context.Background(), trigger("hello"))

	content := f.fake.LastSent().Message.Content
	assert.True(t, strings.HasPrefix(content, "Error: "))
	assert.Contains(t, content, "API key")
}

func TestHandlePrompt_ThinkingDeliveredFirst(t *testing.T) {
	f := newFixture(t, `
read prompt
echo '{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"let me see"}]}}'
echo '{"type":"result","is_error":false,"result":"answer"}'
`)

	f.orch.HandlePrompt(context.Background(), trigger("hello"))

	require.GreaterOrEqual(t, len(f.fake.Sent), 3)
	thinking := f.fake.Sent[len(f.fake.Sent)-2]
	assert.Equal(t, "> **Thinking**\n> let me see", thinking.Message.Content)
	assert.Equal(t, "answer", f.fake.LastSent().Message.Content)
}

func TestHandlePrompt_ResumeRetryRotatesSession(t *testing.T) {
	// Resumed invocations fail; the fresh retry succeeds.
	f := newFixture(t, `
read prompt
case "$*" in
*--resume*)
  echo '{"type":"result","is_error":true,"errors":["No conversation found with session ID"]}'
  ;;
*)
  echo '{"type":"result","is_error":false,"result":"fresh start"}'
  ;;
esac
`)
	f.store.SetMessageCount("chan-1", 3)

	f.orch.HandlePrompt(context.Background(), trigger("continue"))

	sess, ok := f.store.Get("chan-1")
	require.True(t, ok)
	assert.NotEqual(t, "sess-1", sess.SessionID)
	assert.Equal(t, 1, sess.MessageCount) // reset to 0, then the completed turn

	var restartNotice, response bool
	for _, s := range f.fake.Sent {
		if strings.Contains(s.Message.Content, "restarting with a fresh session") {
			restartNotice = true
		}
		if s.Message.Content == "fresh start" {
			response = true
		}
	}
	assert.True(t, restartNotice)
	assert.True(t, response)
}

func TestHandlePrompt_FreshFailureNotRetried(t *testing.T) {
	f := newFixture(t, `
read prompt
echo '{"type":"result","is_error":true,"errors":["boom"]}'
`)

	f.orch.HandlePrompt(context.Background(), trigger("hello"))

	sess, ok := f.store.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, "sess-1", sess.SessionID)
	for _, s := range f.fake.Sent {
		assert.NotContains(t, s.Message.Content, "restarting")
	}
}

func TestHandlePrompt_StopAbortsTurn(t *testing.T) {
	f := newFixture(t, `
read prompt
sleep 30
`)
	// The waiting indicator is the first message the fake hands out.
	f.fake.ScriptButton("msg-1", ButtonStop)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.HandlePrompt(context.Background(), trigger("hello"))
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("stop did not abort the turn")
	}

	require.NotEmpty(t, f.fake.Edits)
	assert.Equal(t, "⏹ Response aborted.", f.fake.Edits[len(f.fake.Edits)-1].Content)
	assert.NotContains(t, f.fake.Deleted, "msg-1")

	sess, ok := f.store.Get("chan-1")
	require.True(t, ok)
	assert.Zero(t, sess.MessageCount)
}

func TestHandlePrompt_StopAbandonsPermissionWait(t *testing.T) {
	f := newFixture(t, `
read prompt
echo '{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"}}}'
sleep 30
`)

	required := make(chan struct{}, 1)
	unsubReq := f.bus.Subscribe(event.PermissionRequired, func(event.Event) {
		select {
		case required <- struct{}{}:
		default:
		}
	})
	defer unsubReq()

	resolved := make(chan event.Event, 1)
	unsubRes := f.bus.Subscribe(event.PermissionResolved, func(e event.Event) {
		select {
		case resolved <- e:
		default:
		}
	})
	defer unsubRes()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.orch.HandlePrompt(context.Background(), trigger("hello"))
	}()

	select {
	case <-required:
	case <-time.After(5 * time.Second):
		t.Fatal("permission request never surfaced")
	}

	// Stopping the turn must also release the pending approval, well ahead
	// of its own timeout.
	f.fake.ScriptButton("msg-1", ButtonStop)

	select {
	case e := <-resolved:
		data, ok := e.Data.(event.PermissionResolvedData)
		require.True(t, ok)
		assert.False(t, data.Granted)
	case <-time.After(5 * time.Second):
		t.Fatal("pending approval kept waiting after stop")
	}

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("stop did not abort the turn")
	}
}

func TestHandlePrompt_ChoiceLoopFollowsSelection(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	f := newFixture(t, fmt.Sprintf(`
read prompt
n=$(cat %[1]s 2>/dev/null || echo 0)
echo $((n+1)) > %[1]s
if [ "$n" -eq 0 ]; then
  echo '{"type":"result","is_error":false,"result":"Pick one:\n1. Refactor\n2. Rewrite"}'
else
  echo '{"type":"result","is_error":false,"result":"done"}'
fi
`, countFile))

	// Select option 2 on whichever message carries the choices.
	f.fake.AnyReaction <- "2️⃣"

	f.orch.HandlePrompt(context.Background(), trigger("options please"))

	assert.Equal(t, "done", f.fake.LastSent().Message.Content)

	sess, ok := f.store.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, 2, sess.MessageCount)

	data, err := os.ReadFile(countFile)
	require.NoError(t, err)
	assert.Equal(t, "2", strings.TrimSpace(string(data)))
}
