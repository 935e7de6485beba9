package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcord/agentcord/internal/config"
	"github.com/agentcord/agentcord/internal/state"
)

func TestCmdStart_CreatesSessionAndPinsStatus(t *testing.T) {
	b, fake, store, _ := newTestBot(t, nil)

	b.HandleInbound(context.Background(), inbound("!start"))

	sess, ok := store.Get("chan-1")
	require.True(t, ok)
	assert.Equal(t, "my-project", sess.Topic)
	assert.NotEmpty(t, sess.SessionID)
	assert.Zero(t, sess.MessageCount)

	var announced, pinned bool
	for _, s := range fake.Sent {
		if strings.Contains(s.Message.Content, "Agent session started.") {
			announced = true
		}
		if strings.HasPrefix(s.Message.Content, statusTag) {
			pinned = true
			assert.Contains(t, fake.Pinned, s.Message.ID)
		}
	}
	assert.True(t, announced)
	assert.True(t, pinned)
}

func TestCmdStart_ExistingSessionReported(t *testing.T) {
	b, fake, store, _ := newTestBot(t, nil)
	store.Put(state.Session{SessionID: "existing-id", ChannelID: "chan-1", Topic: "old-topic", MessageCount: 4})

	b.HandleInbound(context.Background(), inbound("!start"))

	sess, _ := store.Get("chan-1")
	assert.Equal(t, "existing-id", sess.SessionID)
	assert.Contains(t, fake.LastSent().Message.Content, "already active")
	assert.Contains(t, fake.LastSent().Message.Content, "old-topic")
}

func TestCmdStop_RemovesSessionAndPin(t *testing.T) {
	b, fake, store, _ := newTestBot(t, nil)

	b.HandleInbound(context.Background(), inbound("!start"))
	require.NotEmpty(t, fake.Pinned)
	statusID := fake.Pinned[len(fake.Pinned)-1]

	b.HandleInbound(context.Background(), inbound("!stop"))

	_, ok := store.Get("chan-1")
	assert.False(t, ok)
	assert.Contains(t, fake.Deleted, statusID)
	assert.Contains(t, fake.LastSent().Message.Content, "Session stopped.")
}

func TestCmdStop_NoSession(t *testing.T) {
	b, fake, _, _ := newTestBot(t, nil)

	b.HandleInbound(context.Background(), inbound("!stop"))

	assert.Contains(t, fake.LastSent().Message.Content, "No active session")
}

func TestCmdCwd_ShowCurrent(t *testing.T) {
	b, fake, store, _ := newTestBot(t, nil)

	b.HandleInbound(context.Background(), inbound("!cwd"))
	assert.Contains(t, fake.LastSent().Message.Content, "No working directory set")

	store.SetChannelCwd("chan-1", "/tmp/project")
	b.HandleInbound(context.Background(), inbound("!cwd"))
	assert.Contains(t, fake.LastSent().Message.Content, "/tmp/project")
}

func TestCmdCwd_SetExistingDirectory(t *testing.T) {
	b, fake, store, _ := newTestBot(t, nil)
	dir := t.TempDir()

	b.HandleInbound(context.Background(), inbound("!cwd "+dir))

	stored, ok := store.ChannelCwd("chan-1")
	require.True(t, ok)
	assert.Equal(t, dir, stored)
	assert.Contains(t, fake.LastSent().Message.Content, "Working directory set to")
}

func TestCmdCwd_RotatesLiveSession(t *testing.T) {
	b, fake, store, _ := newTestBot(t, nil)
	store.Put(state.Session{SessionID: "old-session-id", ChannelID: "chan-1", Topic: "t", MessageCount: 7, LastAlertPercent: 40})
	dir := t.TempDir()

	b.HandleInbound(context.Background(), inbound("!cwd "+dir))

	sess, ok := store.Get("chan-1")
	require.True(t, ok)
	assert.NotEqual(t, "old-session-id", sess.SessionID)
	assert.Equal(t, dir, sess.WorkingDir)
	assert.Zero(t, sess.MessageCount)
	assert.Zero(t, sess.LastAlertPercent)
	assert.Contains(t, fake.LastSent().Message.Content, "A new session starts here")
}

func TestCmdCwd_BlacklistedPathDenied(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Cwd.Blacklist = []string{dir}
	b, fake, store, _ := newTestBot(t, cfg)

	b.HandleInbound(context.Background(), inbound("!cwd "+dir))

	_, ok := store.ChannelCwd("chan-1")
	assert.False(t, ok)
	assert.Contains(t, fake.LastSent().Message.Content, "blacklisted")
}

func TestCmdCwd_MkdirConfirmed(t *testing.T) {
	b, fake, store, _ := newTestBot(t, nil)
	dir := filepath.Join(t.TempDir(), "newdir")

	// The confirmation prompt is the first message sent.
	fake.AnyButton <- buttonMkdirYes

	b.HandleInbound(context.Background(), inbound("!cwd "+dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	stored, ok := store.ChannelCwd("chan-1")
	require.True(t, ok)
	assert.Equal(t, dir, stored)
}

func TestCmdCwd_MkdirDeclined(t *testing.T) {
	b, fake, store, _ := newTestBot(t, nil)
	dir := filepath.Join(t.TempDir(), "newdir")

	fake.AnyButton <- buttonMkdirNo

	b.HandleInbound(context.Background(), inbound("!cwd "+dir))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	_, ok := store.ChannelCwd("chan-1")
	assert.False(t, ok)

	require.NotEmpty(t, fake.Edits)
	assert.Contains(t, fake.Edits[len(fake.Edits)-1].Content, "canceled")
}

func TestCmdHelp(t *testing.T) {
	b, fake, _, _ := newTestBot(t, nil)

	b.HandleInbound(context.Background(), inbound("!help"))

	content := fake.LastSent().Message.Content
	assert.Contains(t, content, "Agentcord commands:")
	for _, cmd := range commandRegistry {
		assert.Contains(t, content, cmd.usage)
	}
}
