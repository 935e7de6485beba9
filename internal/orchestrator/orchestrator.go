// Package orchestrator runs the per-channel conversation loop: it carries an
// inbound prompt through the agent, delivers the result, and follows selected
// choices until the exchange terminates.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/agentcord/agentcord/internal/agent"
	"github.com/agentcord/agentcord/internal/choice"
	"github.com/agentcord/agentcord/internal/dispatch"
	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/permission"
	"github.com/agentcord/agentcord/internal/platform"
	"github.com/agentcord/agentcord/internal/state"
	"github.com/agentcord/agentcord/internal/usage"
)

const (
	// ButtonStop cancels the in-flight agent turn.
	ButtonStop = "stop_claude"
	// ButtonToggleAuto flips the permission gate's auto-approve mode.
	ButtonToggleAuto = "toggle_auto_approve"

	// thinkingPreviewMax bounds the separately delivered thinking trace.
	thinkingPreviewMax = 1900
)

// UsageChecker fires threshold alerts after a completed turn.
type UsageChecker interface {
	CheckThresholds(sess state.Session) ([]usage.Alert, error)
}

// Orchestrator drives conversation turns for sessions.
type Orchestrator struct {
	messenger platform.Messenger
	runner    *agent.Runner
	store     *state.Store
	tracker   UsageChecker
	bus       *event.Bus

	dispatcher *dispatch.Dispatcher
	resolver   *choice.Resolver
}

// New creates an orchestrator. The tracker may be nil when usage tracking is
// disabled.
func New(messenger platform.Messenger, runner *agent.Runner, store *state.Store, tracker UsageChecker, bus *event.Bus) *Orchestrator {
	return &Orchestrator{
		messenger:  messenger,
		runner:     runner,
		store:      store,
		tracker:    tracker,
		bus:        bus,
		dispatcher: dispatch.NewDispatcher(messenger),
		resolver:   choice.NewResolver(messenger),
	}
}

// HandlePrompt runs the full conversation loop for one inbound message: the
// prompt goes to the agent, the response is delivered, and any selected
// choice becomes the next prompt. Empty prompts are rejected silently.
// Failures never propagate; every turn ends with the channel in a usable
// state.
func (o *Orchestrator) HandlePrompt(ctx context.Context, trigger platform.Message) {
	current := strings.TrimSpace(trigger.Content)

	for current != "" {
		next, done := o.runTurn(ctx, trigger, current)
		if done {
			return
		}
		current = next
	}
}

// runTurn processes one prompt. It returns the follow-up prompt selected from
// a choice set, or done=true when the loop must stop immediately (stopped
// turn or missing session).
func (o *Orchestrator) runTurn(ctx context.Context, trigger platform.Message, prompt string) (next string, done bool) {
	sess, ok := o.store.Get(trigger.ChannelID)
	if !ok {
		return "", true
	}
	channelID := sess.ChannelID

	logging.Traffic("in", channelID, trigger.ID, prompt)
	if err := o.messenger.Typing(ctx, channelID); err != nil {
		logging.Debug().Err(err).Msg("typing indicator failed")
	}

	gate := permission.NewGate(o.messenger, o.bus, channelID, sess.SessionID)

	waiting, err := o.messenger.Send(ctx, channelID, "⏳ Generating a response...", &platform.SendOptions{
		ReplyTo: trigger.ID,
		Buttons: waitingButtons(gate.AutoApprove()),
	})
	if err != nil {
		logging.Error().Err(err).Str("channel", channelID).Msg("failed to send waiting indicator")
		return "", true
	}

	isResume := sess.MessageCount > 0
	o.bus.Publish(event.Event{Type: event.TurnStarted, Data: event.TurnData{
		SessionID: sess.SessionID, ChannelID: channelID,
	}})

	// The turn context reaches the gate's interactive waits through the
	// runner; canceling it abandons any approval still pending.
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	handle := o.runner.Invoke(turnCtx, agent.Options{
		Prompt:      prompt,
		SessionID:   sess.SessionID,
		Resume:      isResume,
		WorkingDir:  sess.WorkingDir,
		Permissions: agent.Gated{OnRequest: gate.Resolve},
	})

	stopped := make(chan struct{})
	stopCollect := o.messenger.CollectButtons(waiting.ID, []string{ButtonStop, ButtonToggleAuto}, func(buttonID string) {
		switch buttonID {
		case ButtonStop:
			select {
			case <-stopped:
			default:
				close(stopped)
			}
			handle.Cancel()
			cancelTurn()
			if err := o.messenger.Edit(ctx, channelID, waiting.ID, "⏹ Response aborted.", nil); err != nil {
				logging.Warn().Err(err).Msg("failed to mark turn aborted")
			}
		case ButtonToggleAuto:
			auto := gate.Toggle()
			if err := o.messenger.Edit(ctx, channelID, waiting.ID, "⏳ Generating a response...", waitingButtons(auto)); err != nil {
				logging.Warn().Err(err).Msg("failed to update auto-approve toggle")
			}
		}
	})

	result := handle.Wait()

	// One automatic retry with a fresh identity when a resumed session
	// cannot be restored. A user-triggered stop is not a resume failure.
	if !result.Success && isResume && result.Failure != agent.FailureAborted {
		result, sess = o.retryFresh(turnCtx, gate, sess, prompt)
	}

	stopCollect()

	select {
	case <-stopped:
		return "", true
	default:
	}

	if err := o.messenger.Delete(ctx, channelID, waiting.ID); err != nil {
		logging.Debug().Err(err).Msg("failed to delete waiting indicator")
	}

	if cur, ok := o.store.Get(channelID); ok {
		o.store.SetMessageCount(channelID, cur.MessageCount+1)
	}
	o.bus.Publish(event.Event{Type: event.TurnCompleted, Data: event.TurnData{
		SessionID: sess.SessionID, ChannelID: channelID, Success: result.Success,
	}})

	response := formatResponse(result)
	logging.Traffic("out", channelID, "agent", response)

	if result.Thinking != "" {
		o.sendThinking(ctx, channelID, result.Thinking)
	}

	sent, err := o.dispatcher.Send(ctx, channelID, response, trigger.ID)
	if err != nil {
		logging.Error().Err(err).Str("channel", channelID).Msg("response delivery failed")
		if _, sendErr := o.messenger.Send(ctx, channelID, "❌ Something went wrong delivering the response.", nil); sendErr != nil {
			logging.Warn().Err(sendErr).Msg("failed to report delivery failure")
		}
		return "", true
	}

	o.checkUsage(channelID)

	if result.Success && len(sent) > 0 {
		if choices := choice.Parse(response); choices != nil {
			last := sent[len(sent)-1]
			if selected, ok := o.resolver.Resolve(ctx, &last, choices); ok {
				return selected, false
			}
		}
	}
	return "", false
}

// retryFresh rotates the session to a new identity, announces the restart and
// re-invokes the turn non-resumed. Runs at most once per turn.
func (o *Orchestrator) retryFresh(ctx context.Context, gate *permission.Gate, sess state.Session, prompt string) (agent.Result, state.Session) {
	newID := uuid.NewString()
	logging.Warn().
		Str("channel", sess.ChannelID).
		Str("session", sess.ShortID()).
		Str("newSession", newID[:8]).
		Msg("resume failed, retrying with a fresh session")

	rotated, ok := o.store.Reset(sess.ChannelID, newID)
	if !ok {
		return agent.Result{Success: false, Output: "Session disappeared during retry.", Failure: agent.FailureError}, sess
	}

	o.bus.Publish(event.Event{Type: event.SessionReset, Data: event.SessionData{
		SessionID: newID, ChannelID: sess.ChannelID, Topic: sess.Topic,
	}})

	notice := fmt.Sprintf("⚠️ Could not restore the previous session; restarting with a fresh session. (`%s`)", rotated.ShortID())
	if _, err := o.messenger.Send(ctx, sess.ChannelID, notice, nil); err != nil {
		logging.Warn().Err(err).Msg("failed to announce session restart")
	}

	handle := o.runner.Invoke(ctx, agent.Options{
		Prompt:      prompt,
		SessionID:   newID,
		Resume:      false,
		WorkingDir:  rotated.WorkingDir,
		Permissions: agent.Gated{OnRequest: gate.Resolve},
	})
	return handle.Wait(), rotated
}

// checkUsage recomputes the session's token usage and publishes any newly
// crossed threshold alerts.
func (o *Orchestrator) checkUsage(channelID string) {
	if o.tracker == nil {
		return
	}
	sess, ok := o.store.Get(channelID)
	if !ok {
		return
	}
	if _, err := o.tracker.CheckThresholds(sess); err != nil {
		logging.Warn().Err(err).Str("channel", channelID).Msg("usage check failed")
	}
}

// sendThinking delivers the thinking trace as a separate quoted message ahead
// of the main response.
func (o *Orchestrator) sendThinking(ctx context.Context, channelID, thinking string) {
	if len(thinking) > thinkingPreviewMax {
		cut := thinkingPreviewMax
		for cut > 0 && !utf8.RuneStart(thinking[cut]) {
			cut--
		}
		thinking = thinking[:cut] + "..."
	}
	lines := strings.Split(thinking, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	content := "> **Thinking**\n" + strings.Join(lines, "\n")
	if _, err := o.messenger.Send(ctx, channelID, content, nil); err != nil {
		logging.Warn().Err(err).Msg("failed to send thinking trace")
	}
}

// formatResponse prefixes failures so they read distinctly from agent output.
func formatResponse(result agent.Result) string {
	if result.Success {
		return result.Output
	}
	if result.Failure == agent.FailureAborted {
		return result.Output
	}
	response := "Error: " + result.Output
	if result.Failure == agent.FailureAuth {
		response += "\n\nCheck the configured API key or sign in with the agent CLI, then try again."
	}
	return response
}

// waitingButtons builds the affordances on the pending indicator.
func waitingButtons(autoApprove bool) []platform.Button {
	toggle := platform.Button{ID: ButtonToggleAuto, Label: "🔓 Approve all requests", Style: platform.ButtonSecondary}
	if autoApprove {
		toggle = platform.Button{ID: ButtonToggleAuto, Label: "🔒 Confirm each request", Style: platform.ButtonPrimary}
	}
	return []platform.Button{
		{ID: ButtonStop, Label: "⏹ Stop", Style: platform.ButtonDanger},
		toggle,
	}
}
