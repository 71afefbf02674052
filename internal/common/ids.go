// Package common holds the identifier types, error taxonomy and logging
// adapter shared by every other package in the driver core.
package common

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionId is a non-zero, driver-assigned, monotonically increasing
// identifier for a single connected extension instance. It is unique for
// the lifetime of a Driver.
type SessionId uint32

// NewSessionId validates a raw value into a SessionId. The zero value is
// never valid: it is reserved so a zero-valued SessionId field always
// means "not yet assigned".
func NewSessionId(v uint32) (SessionId, error) {
	if v == 0 {
		return 0, fmt.Errorf("session id must be non-zero")
	}
	return SessionId(v), nil
}

func (s SessionId) String() string { return fmt.Sprintf("session:%d", uint32(s)) }

// TabId is an extension-assigned, non-zero identifier for a browser tab.
// The core treats it as opaque and forwards it verbatim in command
// envelopes.
type TabId uint32

// NewTabId validates a raw value into a TabId.
func NewTabId(v uint32) (TabId, error) {
	if v == 0 {
		return 0, fmt.Errorf("tab id must be non-zero")
	}
	return TabId(v), nil
}

func (t TabId) String() string { return fmt.Sprintf("tab:%d", uint32(t)) }

// FrameId is an extension-assigned identifier for a frame within a tab.
// Unlike SessionId and TabId, zero is a valid value: it denotes the
// top-level (main) frame.
type FrameId uint64

// MainFrame is the well-known id of a tab's top-level frame.
const MainFrame FrameId = 0

func (f FrameId) String() string {
	if f == MainFrame {
		return "frame:main"
	}
	return fmt.Sprintf("frame:%d", uint64(f))
}

// The 128-bit identifier types below are named, non-aliased types per
// identifier kind so the compiler rejects passing, say, a RequestId
// where an InterceptId is expected, even though all of them are UUIDs
// at the wire level.
type (
	// RequestId correlates a Command with its Response. Unique within a
	// single Connection's lifetime; freed after response dispatch or
	// timeout.
	RequestId uuid.UUID

	// ElementId identifies a DOM element handle held open by the remote
	// extension.
	ElementId uuid.UUID

	// ScriptId identifies a registered preload script.
	ScriptId uuid.UUID

	// SubscriptionId identifies a plain (fire-and-forget) event
	// subscription.
	SubscriptionId uuid.UUID

	// InterceptId identifies a reply-requiring event subscription used to
	// mediate the remote's network I/O.
	InterceptId uuid.UUID
)

// NewRequestId allocates a fresh random RequestId.
func NewRequestId() RequestId { return RequestId(uuid.New()) }

// NewElementId allocates a fresh random ElementId.
func NewElementId() ElementId { return ElementId(uuid.New()) }

// NewScriptId allocates a fresh random ScriptId.
func NewScriptId() ScriptId { return ScriptId(uuid.New()) }

// NewSubscriptionId allocates a fresh random SubscriptionId.
func NewSubscriptionId() SubscriptionId { return SubscriptionId(uuid.New()) }

// NewInterceptId allocates a fresh random InterceptId.
func NewInterceptId() InterceptId { return InterceptId(uuid.New()) }

// NilRequestId is the well-known all-zero UUID used to frame the READY
// handshake response.
var NilRequestId = RequestId(uuid.Nil)

// ParseSubscriptionId parses a wire-format UUID string into a
// SubscriptionId.
func ParseSubscriptionId(s string) (SubscriptionId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SubscriptionId{}, fmt.Errorf("parse subscription id: %w", err)
	}
	return SubscriptionId(id), nil
}

// ParseInterceptId parses a wire-format UUID string into an InterceptId.
func ParseInterceptId(s string) (InterceptId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return InterceptId{}, fmt.Errorf("parse intercept id: %w", err)
	}
	return InterceptId(id), nil
}

// ParseRequestId parses a wire-format UUID string into a RequestId.
func ParseRequestId(s string) (RequestId, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RequestId{}, fmt.Errorf("parse request id: %w", err)
	}
	return RequestId(id), nil
}

func (r RequestId) String() string       { return uuid.UUID(r).String() }
func (e ElementId) String() string       { return uuid.UUID(e).String() }
func (s ScriptId) String() string        { return uuid.UUID(s).String() }
func (s SubscriptionId) String() string  { return uuid.UUID(s).String() }
func (i InterceptId) String() string     { return uuid.UUID(i).String() }
func (r RequestId) MarshalText() ([]byte, error)      { return uuid.UUID(r).MarshalText() }
func (r *RequestId) UnmarshalText(b []byte) error      { return (*uuid.UUID)(r).UnmarshalText(b) }
func (e ElementId) MarshalText() ([]byte, error)       { return uuid.UUID(e).MarshalText() }
func (e *ElementId) UnmarshalText(b []byte) error      { return (*uuid.UUID)(e).UnmarshalText(b) }
func (s ScriptId) MarshalText() ([]byte, error)        { return uuid.UUID(s).MarshalText() }
func (s *ScriptId) UnmarshalText(b []byte) error       { return (*uuid.UUID)(s).UnmarshalText(b) }
func (s SubscriptionId) MarshalText() ([]byte, error)  { return uuid.UUID(s).MarshalText() }
func (s *SubscriptionId) UnmarshalText(b []byte) error { return (*uuid.UUID)(s).UnmarshalText(b) }
func (i InterceptId) MarshalText() ([]byte, error)     { return uuid.UUID(i).MarshalText() }
func (i *InterceptId) UnmarshalText(b []byte) error    { return (*uuid.UUID)(i).UnmarshalText(b) }
