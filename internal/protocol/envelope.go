// Package protocol implements the wire envelope codec for the driver's
// JSON/WebSocket request-response-event protocol: Command, Response,
// Event and EventReply frames, plus the nil-UUID READY handshake.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
)

// ResponseType discriminates a Response envelope's outcome.
type ResponseType string

const (
	ResponseSuccess ResponseType = "success"
	ResponseError   ResponseType = "error"
)

// Command is a client-to-remote request envelope.
type Command struct {
	ID      common.RequestId `json:"id"`
	Method  string           `json:"method"`
	TabId   common.TabId     `json:"tabId"`
	FrameId common.FrameId   `json:"frameId"`
	Params  json.RawMessage  `json:"params,omitempty"`
}

// Response is a remote-to-client reply envelope, correlated to a Command
// by ID. Exactly one of Result/Error is populated, discriminated by Type.
type Response struct {
	ID      common.RequestId `json:"id"`
	Type    ResponseType     `json:"type"`
	Result  json.RawMessage  `json:"result,omitempty"`
	ErrCode string           `json:"error,omitempty"`
	ErrMsg  string           `json:"message,omitempty"`
}

// IsReady reports whether this Response is the first-frame READY
// handshake: nil-UUID id, success type.
func (r *Response) IsReady() bool {
	return r.Type == ResponseSuccess && r.ID == common.NilRequestId
}

// ReadyPayload is the decoded `result` of a READY Response.
type ReadyPayload struct {
	SessionId uint32 `json:"sessionId"`
	TabId     uint32 `json:"tabId"`
}

// Event is a remote-pushed envelope, independent of any Command. For
// reply-requiring events, Params embeds an "interceptId" field and the
// envelope's own ID is the correlation handle for the EventReply.
type Event struct {
	ID     common.RequestId `json:"id"`
	Type   string           `json:"type"` // always "event"
	Method string           `json:"method"`
	Params json.RawMessage  `json:"params"`
}

const eventType = "event"

// EventReply is a client-to-remote reply to a reply-requiring Event,
// correlated by the event's own id.
type EventReply struct {
	ID      common.RequestId `json:"id"`
	ReplyTo string           `json:"replyTo"`
	Result  json.RawMessage  `json:"result"`
}

// Frame is the decoded result of sniffing an inbound byte payload: it is
// either a Response or an Event, never both.
type Frame struct {
	Response *Response
	Event    *Event
}

// sniff is the minimal shape needed to tell a Response from an Event
// before committing to a concrete unmarshal.
type sniff struct {
	Type string `json:"type"`
}

// DecodeFrame classifies and decodes a single inbound text-frame
// payload: type=="event" is an Event, anything else is a Response.
func DecodeFrame(raw []byte) (*Frame, error) {
	var s sniff
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, common.NewProtocolError(fmt.Sprintf("decode frame: %v", err))
	}
	if s.Type == eventType {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, common.NewProtocolError(fmt.Sprintf("decode event: %v", err))
		}
		return &Frame{Event: &ev}, nil
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, common.NewProtocolError(fmt.Sprintf("decode response: %v", err))
	}
	return &Frame{Response: &resp}, nil
}

// EncodeCommand serializes a Command to its wire bytes.
func EncodeCommand(c *Command) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, common.NewJSONError(err)
	}
	return b, nil
}

// EncodeEventReply serializes an EventReply to its wire bytes.
func EncodeEventReply(r *EventReply) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, common.NewJSONError(err)
	}
	return b, nil
}

// NewCommand builds a Command envelope, marshaling params if non-nil.
func NewCommand(id common.RequestId, method string, tabID common.TabId, frameID common.FrameId, params interface{}) (*Command, error) {
	cmd := &Command{ID: id, Method: method, TabId: tabID, FrameId: frameID}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, common.NewJSONError(err)
		}
		cmd.Params = raw
	}
	return cmd, nil
}

// EncodeReadyResponse serializes the READY handshake frame for a given
// session/tab pair. Used by test doubles that stand in for the remote
// extension.
func EncodeReadyResponse(sessionID, tabID uint32) ([]byte, error) {
	payload, err := json.Marshal(ReadyPayload{SessionId: sessionID, TabId: tabID})
	if err != nil {
		return nil, common.NewJSONError(err)
	}
	resp := Response{ID: common.NilRequestId, Type: ResponseSuccess, Result: payload}
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, common.NewJSONError(err)
	}
	return b, nil
}
