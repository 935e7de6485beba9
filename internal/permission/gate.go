// Package permission resolves the agent's tool-use permission requests,
// either automatically or through a timed interactive approval exchange in
// the session channel.
package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/platform"
)

const (
	// ResponseTimeout is how long a manual approval waits before the
	// request is denied as expired.
	ResponseTimeout = 120 * time.Second

	// inputPreviewMax bounds the JSON payload preview shown in channel.
	inputPreviewMax = 800

	// Button custom IDs on the approval message.
	ButtonAllow = "perm_allow"
	ButtonDeny  = "perm_deny"
)

// Gate mediates tool-use permission requests for one session channel.
// With auto-approve on, requests resolve immediately and are announced;
// otherwise each request presents an allow/deny exchange and awaits exactly
// one response. The toggle may flip mid-turn without affecting a request
// already in flight.
type Gate struct {
	messenger platform.Messenger
	bus       *event.Bus
	channelID string
	sessionID string

	auto atomic.Bool

	// timeout is ResponseTimeout in production; tests shorten it.
	timeout time.Duration
}

// NewGate creates a gate for a session channel. Auto-approve starts off.
func NewGate(messenger platform.Messenger, bus *event.Bus, channelID, sessionID string) *Gate {
	return &Gate{
		messenger: messenger,
		bus:       bus,
		channelID: channelID,
		sessionID: sessionID,
		timeout:   ResponseTimeout,
	}
}

// AutoApprove reports whether the auto-approve toggle is on.
func (g *Gate) AutoApprove() bool {
	return g.auto.Load()
}

// Toggle flips auto-approve and returns the new value.
func (g *Gate) Toggle() bool {
	for {
		old := g.auto.Load()
		if g.auto.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Resolve handles one permission request and reports whether the tool may
// run. It never returns an error: any failure to present the exchange denies
// the request.
func (g *Gate) Resolve(ctx context.Context, tool string, input json.RawMessage) bool {
	id := ulid.Make().String()
	preview := previewInput(input)

	logging.Info().
		Str("channel", g.channelID).
		Str("tool", tool).
		Str("input", logging.Preview(string(input), 200)).
		Msg("permission requested")

	g.bus.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{ID: id, SessionID: g.sessionID, Tool: tool},
	})

	if g.auto.Load() {
		return g.resolveAuto(ctx, id, tool, preview)
	}
	return g.resolveManual(ctx, id, tool, preview)
}

func (g *Gate) resolveAuto(ctx context.Context, id, tool, preview string) bool {
	content := fmt.Sprintf("**🔐 Permission request: `%s`** → ✅ auto-approved\n```json\n%s\n```", tool, preview)
	if _, err := g.messenger.Send(ctx, g.channelID, content, nil); err != nil {
		logging.Warn().Err(err).Msg("failed to announce auto-approval")
	}

	g.bus.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{ID: id, Granted: true, Auto: true},
	})
	logging.Info().Str("tool", tool).Msg("permission auto-approved")
	return true
}

func (g *Gate) resolveManual(ctx context.Context, id, tool, preview string) bool {
	content := fmt.Sprintf("**🔐 Permission request: `%s`**\n```json\n%s\n```", tool, preview)
	msg, err := g.messenger.Send(ctx, g.channelID, content, &platform.SendOptions{
		Buttons: []platform.Button{
			{ID: ButtonAllow, Label: "✅ Allow", Style: platform.ButtonSuccess},
			{ID: ButtonDeny, Label: "❌ Deny", Style: platform.ButtonDanger},
		},
	})
	if err != nil {
		logging.Error().Err(err).Msg("failed to present permission request, denying")
		g.publishResolved(id, false, false)
		return false
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	clicked, err := g.messenger.AwaitButton(waitCtx, msg.ID, []string{ButtonAllow, ButtonDeny})
	if err != nil {
		expired := err == platform.ErrTimeout
		outcome := fmt.Sprintf("**🔐 Permission request: `%s`** → ⏰ expired (denied)", tool)
		if editErr := g.messenger.Edit(ctx, g.channelID, msg.ID, outcome, nil); editErr != nil {
			logging.Warn().Err(editErr).Msg("failed to mark permission request expired")
		}
		g.publishResolved(id, false, expired)
		logging.Info().Str("tool", tool).Msg("permission request expired")
		return false
	}

	allowed := clicked == ButtonAllow
	verdict := "❌ denied"
	if allowed {
		verdict = "✅ allowed"
	}
	outcome := fmt.Sprintf("**🔐 Permission request: `%s`** → %s", tool, verdict)
	if editErr := g.messenger.Edit(ctx, g.channelID, msg.ID, outcome, nil); editErr != nil {
		logging.Warn().Err(editErr).Msg("failed to record permission outcome")
	}

	g.publishResolved(id, allowed, false)
	logging.Info().Str("tool", tool).Bool("allowed", allowed).Msg("permission resolved")
	return allowed
}

func (g *Gate) publishResolved(id string, granted, expired bool) {
	g.bus.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{ID: id, Granted: granted, Expired: expired},
	})
}

// previewInput renders a bounded, pretty-printed view of the tool input.
func previewInput(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return logging.Preview(string(input), inputPreviewMax)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return logging.Preview(string(input), inputPreviewMax)
	}
	s := string(pretty)
	if len(s) > inputPreviewMax {
		return s[:inputPreviewMax] + "\n..."
	}
	return s
}
