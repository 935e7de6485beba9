package agent

import (
	"encoding/json"
	"fmt"
)

// The agent CLI emits newline-delimited JSON records on stdout in
// stream-json mode. Each line is validated here into a closed union;
// unknown record types are skipped by the reader.

// Chunk is one parsed stream record.
type Chunk interface {
	chunk()
}

// AssistantChunk carries assistant message content blocks.
type AssistantChunk struct {
	Text     string
	Thinking string
}

// ResultChunk is the terminal record of a turn.
type ResultChunk struct {
	IsError      bool
	Result       string
	Errors       []string
	TotalCostUSD float64
}

// ControlRequestChunk is an inbound permission request from the agent. The
// turn blocks until a control response is written back on stdin.
type ControlRequestChunk struct {
	RequestID string
	ToolName  string
	Input     json.RawMessage
}

func (AssistantChunk) chunk()      {}
func (ResultChunk) chunk()         {}
func (ControlRequestChunk) chunk() {}

// errUnknownChunk marks record types the reader ignores.
var errUnknownChunk = fmt.Errorf("unknown chunk type")

type rawChunk struct {
	Type    string `json:"type"`
	Message *struct {
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text,omitempty"`
			Thinking string `json:"thinking,omitempty"`
		} `json:"content"`
	} `json:"message,omitempty"`

	// result fields
	IsError      bool     `json:"is_error,omitempty"`
	Result       string   `json:"result,omitempty"`
	Errors       []string `json:"errors,omitempty"`
	TotalCostUSD float64  `json:"total_cost_usd,omitempty"`

	// control_request fields
	RequestID string `json:"request_id,omitempty"`
	Request   *struct {
		Subtype  string          `json:"subtype"`
		ToolName string          `json:"tool_name"`
		Input    json.RawMessage `json:"input"`
	} `json:"request,omitempty"`
}

// parseChunk validates one stream line. Lines that are not JSON or carry a
// type outside the union return an error; the caller skips them.
func parseChunk(line []byte) (Chunk, error) {
	var raw rawChunk
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("malformed stream line: %w", err)
	}

	switch raw.Type {
	case "assistant":
		out := AssistantChunk{}
		if raw.Message != nil {
			for _, block := range raw.Message.Content {
				switch block.Type {
				case "text":
					if block.Text != "" {
						out.Text = block.Text
					}
				case "thinking":
					if block.Thinking != "" {
						if out.Thinking != "" {
							out.Thinking += "\n"
						}
						out.Thinking += block.Thinking
					}
				}
			}
		}
		return out, nil

	case "result":
		return ResultChunk{
			IsError:      raw.IsError,
			Result:       raw.Result,
			Errors:       raw.Errors,
			TotalCostUSD: raw.TotalCostUSD,
		}, nil

	case "control_request":
		if raw.Request == nil || raw.Request.Subtype != "can_use_tool" {
			return nil, errUnknownChunk
		}
		return ControlRequestChunk{
			RequestID: raw.RequestID,
			ToolName:  raw.Request.ToolName,
			Input:     raw.Request.Input,
		}, nil

	default:
		return nil, errUnknownChunk
	}
}

// userMessage is the stream-json stdin record carrying the prompt in gated mode.
type userMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string         `json:"role"`
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func newUserMessage(prompt string) userMessage {
	var m userMessage
	m.Type = "user"
	m.Message.Role = "user"
	m.Message.Content = []contentBlock{{Type: "text", Text: prompt}}
	return m
}

// controlResponse answers a ControlRequestChunk on stdin.
type controlResponse struct {
	Type     string `json:"type"`
	Response struct {
		RequestID string `json:"request_id"`
		Subtype   string `json:"subtype"`
		Response  struct {
			Behavior string `json:"behavior"`
			Message  string `json:"message,omitempty"`
		} `json:"response"`
	} `json:"response"`
}

func newControlResponse(requestID string, allow bool) controlResponse {
	var r controlResponse
	r.Type = "control_response"
	r.Response.RequestID = requestID
	r.Response.Subtype = "success"
	if allow {
		r.Response.Response.Behavior = "allow"
	} else {
		r.Response.Response.Behavior = "deny"
		r.Response.Response.Message = "The user denied permission for this tool."
	}
	return r
}
