package usage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/state"
)

func TestEncodeProjectPath(t *testing.T) {
	assert.Equal(t, "home-user-proj", EncodeProjectPath("/home/user/proj"))
	assert.Equal(t, "rel-dir", EncodeProjectPath("rel/dir"))
	assert.Equal(t, "", EncodeProjectPath("/"))
}

func writeTranscript(t *testing.T, dataDir, workingDir, sessionID string, lines []string) {
	t.Helper()
	dir := filepath.Join(dataDir, "projects", EncodeProjectPath(workingDir))
	require.NoError(t, os.MkdirAll(dir, 0755))
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionID+".jsonl"), []byte(content), 0644))
}

func TestUsage_SumsAssistantRecords(t *testing.T) {
	dataDir := t.TempDir()
	writeTranscript(t, dataDir, "/home/user/proj", "sess-1", []string{
		`{"type":"assistant","message":{"usage":{"input_tokens":10,"cache_creation_input_tokens":5,"cache_read_input_tokens":3,"output_tokens":7}}}`,
		`{"type":"user","message":{"usage":{"input_tokens":99,"output_tokens":99}}}`,
		`not valid json at all`,
		``,
		`{"type":"assistant","message":{"usage":{"input_tokens":2,"output_tokens":1}}}`,
		`{"type":"assistant","message":{}}`,
	})

	tracker := NewTracker(dataDir, 0, nil, nil)
	rec, err := tracker.Usage("sess-1", "/home/user/proj")
	require.NoError(t, err)
	assert.Equal(t, 20, rec.InputTokens)
	assert.Equal(t, 8, rec.OutputTokens)
	assert.Equal(t, 28, rec.Total())
}

func TestUsage_MissingLogIsZero(t *testing.T) {
	tracker := NewTracker(t.TempDir(), 0, nil, nil)
	rec, err := tracker.Usage("absent", "/nowhere")
	require.NoError(t, err)
	assert.Zero(t, rec.Total())
}

func newTestSession(t *testing.T, dataDir string) (*state.Store, state.Session) {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	sess := state.Session{
		SessionID:  "sess-1",
		ChannelID:  "chan-1",
		WorkingDir: "/home/user/proj",
		CreatedAt:  time.Now(),
	}
	store.Put(sess)
	return store, sess
}

func TestCheckThresholds_FiresEachOnce(t *testing.T) {
	dataDir := t.TempDir()
	writeTranscript(t, dataDir, "/home/user/proj", "sess-1", []string{
		`{"type":"assistant","message":{"usage":{"input_tokens":50,"output_tokens":5}}}`,
	})

	store, sess := newTestSession(t, dataDir)
	bus := event.NewBus()
	defer bus.Close()

	tracker := NewTracker(dataDir, 100, store, bus)

	alerts, err := tracker.CheckThresholds(sess)
	require.NoError(t, err)
	require.Len(t, alerts, 5)
	for i, want := range []int{10, 20, 30, 40, 50} {
		assert.Equal(t, want, alerts[i].Threshold)
		assert.Equal(t, 55, alerts[i].Percent)
	}

	// The baseline advanced, so an identical recomputation stays silent.
	updated, ok := store.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, 55, updated.LastAlertPercent)

	alerts, err = tracker.CheckThresholds(updated)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestCheckThresholds_PublishesEvents(t *testing.T) {
	dataDir := t.TempDir()
	writeTranscript(t, dataDir, "/home/user/proj", "sess-1", []string{
		`{"type":"assistant","message":{"usage":{"input_tokens":96,"output_tokens":0}}}`,
	})

	store, sess := newTestSession(t, dataDir)
	bus := event.NewBus()
	defer bus.Close()

	received := make(chan event.Event, 16)
	bus.Subscribe(event.UsageAlert, func(e event.Event) { received <- e })

	tracker := NewTracker(dataDir, 100, store, bus)
	sess.LastAlertPercent = 90

	alerts, err := tracker.CheckThresholds(sess)
	require.NoError(t, err)
	require.Len(t, alerts, 2) // 95 and 98

	for range alerts {
		select {
		case e := <-received:
			data := e.Data.(event.UsageAlertData)
			assert.Equal(t, "chan-1", data.ChannelID)
			assert.Equal(t, 96, data.Percent)
		case <-time.After(time.Second):
			t.Fatal("usage alert event not delivered")
		}
	}
}

func TestCheckThresholds_DisabledWithoutLimit(t *testing.T) {
	dataDir := t.TempDir()
	store, sess := newTestSession(t, dataDir)

	tracker := NewTracker(dataDir, 0, store, event.NewBus())
	alerts, err := tracker.CheckThresholds(sess)
	require.NoError(t, err)
	assert.Nil(t, alerts)
}
