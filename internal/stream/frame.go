package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel is the literal data payload that ends a session's event stream.
const Sentinel = "[DONE]"

const (
	EventProgress = "progress"
	EventResponse = "response"
)

// Frame is the data payload of one server-sent event.
type Frame struct {
	Data string
}

type FrameKind int

const (
	FrameInvalid FrameKind = iota
	FrameEnd
	FrameProgress
	FrameResponse
	FrameUnknown
)

func (k FrameKind) String() string {
	switch k {
	case FrameEnd:
		return "end"
	case FrameProgress:
		return "progress"
	case FrameResponse:
		return "response"
	case FrameUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

type wireEvent struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type Response struct {
	Text  string `json:"text"`
	RunID string `json:"run_id"`
}

// Classified is a frame sorted into one of the kinds the manager reacts to.
type Classified struct {
	Kind     FrameKind
	Type     string
	Status   string
	Response Response
	Err      error
}

// Classify inspects a raw frame. The sentinel is recognised before any JSON
// parsing so it can never be mistaken for a malformed payload.
func Classify(f Frame) Classified {
	data := strings.TrimSpace(f.Data)
	if data == Sentinel {
		return Classified{Kind: FrameEnd}
	}
	if data == "" {
		return Classified{Kind: FrameInvalid, Err: errors.New("empty frame")}
	}

	var evt wireEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return Classified{Kind: FrameInvalid, Err: fmt.Errorf("decode frame: %w", err)}
	}

	switch evt.Type {
	case EventProgress:
		return Classified{Kind: FrameProgress, Type: evt.Type, Status: progressText(evt.Message)}
	case EventResponse:
		var resp Response
		if err := json.Unmarshal(evt.Message, &resp); err != nil {
			return Classified{Kind: FrameInvalid, Type: evt.Type, Err: fmt.Errorf("decode response message: %w", err)}
		}
		return Classified{Kind: FrameResponse, Type: evt.Type, Response: resp}
	default:
		return Classified{Kind: FrameUnknown, Type: evt.Type}
	}
}

func progressText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
