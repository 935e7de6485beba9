// Package usage derives cumulative token consumption for a session from its
// append-only transcript log and raises one-shot threshold alerts against a
// configured budget.
package usage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentcord/agentcord/internal/event"
	"github.com/agentcord/agentcord/internal/logging"
	"github.com/agentcord/agentcord/internal/state"
)

// alertThresholds are the budget percentages announced once each, ascending.
var alertThresholds = []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 98, 100}

// maxRecordLine bounds a single transcript record.
const maxRecordLine = 10 * 1024 * 1024

// Record is the summed consumption for one session. Derived on demand from
// the transcript log, never stored.
type Record struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Total returns input plus output tokens.
func (r Record) Total() int {
	return r.InputTokens + r.OutputTokens
}

// Tracker computes usage records and fires threshold alerts.
type Tracker struct {
	dataDir string
	limit   int
	store   *state.Store
	bus     *event.Bus
}

// NewTracker creates a tracker reading transcripts under dataDir. A limit
// of zero or below disables threshold alerts entirely.
func NewTracker(dataDir string, limit int, store *state.Store, bus *event.Bus) *Tracker {
	return &Tracker{dataDir: dataDir, limit: limit, store: store, bus: bus}
}

// EncodeProjectPath maps a working directory onto the transcript directory
// name: path separators become dashes and the leading dash is dropped.
func EncodeProjectPath(dir string) string {
	return strings.TrimPrefix(strings.ReplaceAll(dir, "/", "-"), "-")
}

// transcriptPath locates the session's JSONL transcript log.
func (t *Tracker) transcriptPath(sessionID, workingDir string) string {
	return filepath.Join(t.dataDir, "projects", EncodeProjectPath(workingDir), sessionID+".jsonl")
}

// transcriptRecord is the subset of a transcript line the tracker reads.
type transcriptRecord struct {
	Type    string `json:"type"`
	Message *struct {
		Usage *struct {
			InputTokens              int `json:"input_tokens"`
			CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
			CacheReadInputTokens     int `json:"cache_read_input_tokens"`
			OutputTokens             int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

// Usage streams the session's transcript log and sums token counts from
// assistant records. Cache creation and cache read tokens count toward the
// input total. A missing log yields a zero record; malformed lines are
// skipped, not fatal.
func (t *Tracker) Usage(sessionID, workingDir string) (Record, error) {
	var rec Record

	f, err := os.Open(t.transcriptPath(sessionID, workingDir))
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return rec, fmt.Errorf("failed to open transcript log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var tr transcriptRecord
		if err := json.Unmarshal([]byte(line), &tr); err != nil {
			continue
		}
		if tr.Type != "assistant" || tr.Message == nil || tr.Message.Usage == nil {
			continue
		}
		u := tr.Message.Usage
		rec.InputTokens += u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
		rec.OutputTokens += u.OutputTokens
	}
	if err := scanner.Err(); err != nil {
		return rec, fmt.Errorf("failed to scan transcript log: %w", err)
	}
	return rec, nil
}

// Alert is one fired threshold notification.
type Alert struct {
	Threshold int
	Percent   int
	Message   string
}

// CheckThresholds computes the session's budget percentage and fires one
// alert per newly crossed threshold, ascending. The session's alert baseline
// advances to the computed percentage so repeat checks with no new usage stay
// silent. Disabled when the limit is zero or below.
func (t *Tracker) CheckThresholds(sess state.Session) ([]Alert, error) {
	if t.limit <= 0 {
		return nil, nil
	}

	rec, err := t.Usage(sess.SessionID, sess.WorkingDir)
	if err != nil {
		return nil, err
	}

	percent := 100 * rec.Total() / t.limit
	var alerts []Alert
	for _, threshold := range alertThresholds {
		if percent >= threshold && sess.LastAlertPercent < threshold {
			alert := Alert{
				Threshold: threshold,
				Percent:   percent,
				Message: fmt.Sprintf("⚠️ Session `%s` token usage reached %d%% of the limit (%d / %d tokens)",
					sess.ShortID(), threshold, rec.Total(), t.limit),
			}
			alerts = append(alerts, alert)
			t.bus.Publish(event.Event{Type: event.UsageAlert, Data: event.UsageAlertData{
				SessionID: sess.SessionID,
				ChannelID: sess.ChannelID,
				Threshold: threshold,
				Percent:   percent,
				Message:   alert.Message,
			}})
		}
	}

	if percent != sess.LastAlertPercent {
		t.store.SetAlertPercent(sess.ChannelID, percent)
	}

	if len(alerts) > 0 {
		logging.Info().
			Str("session", sess.ShortID()).
			Int("percent", percent).
			Int("alerts", len(alerts)).
			Msg("usage thresholds crossed")
	}
	return alerts, nil
}
