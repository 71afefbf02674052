package common

import "fmt"

// Kind is the closed set of error classifications the driver core can
// surface. Go has no sum types, so Kind plus a flat set of payload fields
// on Error is the idiomatic stand-in.
type Kind int

const (
	KindConfig Kind = iota
	KindProfile
	KindFirefoxNotFound
	KindProcessLaunchFailed
	KindConnection
	KindConnectionTimeout
	KindConnectionClosed
	KindUnknownCommand
	KindInvalidArgument
	KindProtocol
	KindElementNotFound
	KindStaleElement
	KindFrameNotFound
	KindTabNotFound
	KindInterceptNotFound
	KindScriptError
	KindTimeout
	KindRequestTimeout
	KindSessionNotFound
	KindIO
	KindJSON
	KindWebSocket
	KindChannelClosed
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "Config"
	case KindProfile:
		return "Profile"
	case KindFirefoxNotFound:
		return "FirefoxNotFound"
	case KindProcessLaunchFailed:
		return "ProcessLaunchFailed"
	case KindConnection:
		return "Connection"
	case KindConnectionTimeout:
		return "ConnectionTimeout"
	case KindConnectionClosed:
		return "ConnectionClosed"
	case KindUnknownCommand:
		return "UnknownCommand"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindProtocol:
		return "Protocol"
	case KindElementNotFound:
		return "ElementNotFound"
	case KindStaleElement:
		return "StaleElement"
	case KindFrameNotFound:
		return "FrameNotFound"
	case KindTabNotFound:
		return "TabNotFound"
	case KindInterceptNotFound:
		return "InterceptNotFound"
	case KindScriptError:
		return "ScriptError"
	case KindTimeout:
		return "Timeout"
	case KindRequestTimeout:
		return "RequestTimeout"
	case KindSessionNotFound:
		return "SessionNotFound"
	case KindIO:
		return "Io"
	case KindJSON:
		return "Json"
	case KindWebSocket:
		return "WebSocket"
	case KindChannelClosed:
		return "ChannelClosed"
	default:
		return "Unknown"
	}
}

// Error is the single error type surfaced across the driver's public
// boundary. Local call sites build it through one of the kind-specific
// constructors below so they can't forget a field a given Kind
// requires; errors decoded from a remote error response are built
// directly from RemoteErrorKind and the remote message.
type Error struct {
	Kind Kind

	Message string

	// Remote command name, for KindUnknownCommand.
	Command string
	// Selector/TabId/FrameId, for KindElementNotFound.
	Selector string
	TabId    TabId
	FrameId  FrameId
	// ElementId, for KindStaleElement.
	ElementId ElementId
	// InterceptId, for KindInterceptNotFound.
	InterceptId InterceptId
	// SessionId, for KindSessionNotFound.
	SessionId SessionId
	// Operation name, for KindTimeout.
	Operation string
	// RequestId, for KindRequestTimeout.
	RequestId RequestId
	// TimeoutMs, for KindConnectionTimeout/KindTimeout/KindRequestTimeout.
	TimeoutMs int64
	// FirefoxPath, for KindFirefoxNotFound.
	FirefoxPath string

	inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case KindUnknownCommand:
		return fmt.Sprintf("unknown command: %s", e.Command)
	case KindElementNotFound:
		return fmt.Sprintf("no such element: selector=%q tab=%v frame=%v", e.Selector, e.TabId, e.FrameId)
	case KindStaleElement:
		return fmt.Sprintf("stale element: %v", e.ElementId)
	case KindFrameNotFound:
		return fmt.Sprintf("no such frame: %v", e.FrameId)
	case KindTabNotFound:
		return fmt.Sprintf("no such tab: %v", e.TabId)
	case KindInterceptNotFound:
		return fmt.Sprintf("no such intercept: %v", e.InterceptId)
	case KindSessionNotFound:
		return fmt.Sprintf("session not found: %v", e.SessionId)
	case KindTimeout:
		return fmt.Sprintf("timeout: operation=%s after %dms", e.Operation, e.TimeoutMs)
	case KindRequestTimeout:
		return fmt.Sprintf("request timeout: request=%v after %dms", e.RequestId, e.TimeoutMs)
	case KindConnectionTimeout:
		return fmt.Sprintf("connection timeout after %dms", e.TimeoutMs)
	case KindConnectionClosed:
		return "connection closed"
	case KindFirefoxNotFound:
		return fmt.Sprintf("firefox binary not found: %s", e.FirefoxPath)
	case KindIO, KindJSON, KindWebSocket, KindChannelClosed:
		if e.inner != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.inner)
		}
		return e.Kind.String()
	default:
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Message)
		}
		return e.Kind.String()
	}
}

// Unwrap exposes the wrapped adapter error, if any, so errors.Is/As work
// across Io/Json/WebSocket/ChannelClosed boundaries.
func (e *Error) Unwrap() error { return e.inner }

// IsTimeout reports whether the error is one of the timeout-family kinds.
func (e *Error) IsTimeout() bool {
	switch e.Kind {
	case KindConnectionTimeout, KindTimeout, KindRequestTimeout:
		return true
	default:
		return false
	}
}

// IsElementError reports whether the error concerns a DOM element that
// no longer exists or was never found.
func (e *Error) IsElementError() bool {
	switch e.Kind {
	case KindElementNotFound, KindStaleElement:
		return true
	default:
		return false
	}
}

// IsConnectionError reports whether the error concerns the transport
// rather than the remote protocol or command semantics.
func (e *Error) IsConnectionError() bool {
	switch e.Kind {
	case KindConnection, KindConnectionTimeout, KindConnectionClosed, KindWebSocket:
		return true
	default:
		return false
	}
}

// IsRecoverable reports whether a caller retrying the same operation is a
// reasonable strategy.
func (e *Error) IsRecoverable() bool {
	switch e.Kind {
	case KindConnectionTimeout, KindTimeout, KindRequestTimeout, KindStaleElement:
		return true
	default:
		return false
	}
}

func NewConfigError(message string) *Error { return &Error{Kind: KindConfig, Message: message} }

func NewProfileError(message string) *Error { return &Error{Kind: KindProfile, Message: message} }

func NewFirefoxNotFoundError(path string) *Error {
	return &Error{Kind: KindFirefoxNotFound, FirefoxPath: path}
}

func NewProcessLaunchFailedError(message string) *Error {
	return &Error{Kind: KindProcessLaunchFailed, Message: message}
}

func NewConnectionError(message string) *Error {
	return &Error{Kind: KindConnection, Message: message}
}

func NewConnectionTimeoutError(timeoutMs int64) *Error {
	return &Error{Kind: KindConnectionTimeout, TimeoutMs: timeoutMs}
}

func NewConnectionClosedError() *Error { return &Error{Kind: KindConnectionClosed} }

func NewUnknownCommandError(command string) *Error {
	return &Error{Kind: KindUnknownCommand, Command: command}
}

func NewInvalidArgumentError(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

func NewProtocolError(message string) *Error { return &Error{Kind: KindProtocol, Message: message} }

func NewElementNotFoundError(selector string, tabID TabId, frameID FrameId) *Error {
	return &Error{Kind: KindElementNotFound, Selector: selector, TabId: tabID, FrameId: frameID}
}

func NewStaleElementError(id ElementId) *Error {
	return &Error{Kind: KindStaleElement, ElementId: id}
}

func NewFrameNotFoundError(id FrameId) *Error { return &Error{Kind: KindFrameNotFound, FrameId: id} }

func NewTabNotFoundError(id TabId) *Error { return &Error{Kind: KindTabNotFound, TabId: id} }

func NewInterceptNotFoundError(id InterceptId) *Error {
	return &Error{Kind: KindInterceptNotFound, InterceptId: id}
}

func NewScriptError(message string) *Error { return &Error{Kind: KindScriptError, Message: message} }

func NewTimeoutError(operation string, timeoutMs int64) *Error {
	return &Error{Kind: KindTimeout, Operation: operation, TimeoutMs: timeoutMs}
}

func NewRequestTimeoutError(id RequestId, timeoutMs int64) *Error {
	return &Error{Kind: KindRequestTimeout, RequestId: id, TimeoutMs: timeoutMs}
}

func NewSessionNotFoundError(id SessionId) *Error {
	return &Error{Kind: KindSessionNotFound, SessionId: id}
}

func NewIOError(err error) *Error { return &Error{Kind: KindIO, inner: err} }

func NewJSONError(err error) *Error { return &Error{Kind: KindJSON, inner: err} }

func NewWebSocketError(err error) *Error { return &Error{Kind: KindWebSocket, inner: err} }

func NewChannelClosedError() *Error { return &Error{Kind: KindChannelClosed} }

// RemoteErrorKind maps one of the protocol's wire error codes to a local
// Kind. Unrecognized codes (including "unknown error") map to
// KindConnection; the carried message is preserved alongside.
func RemoteErrorKind(code string) Kind {
	switch code {
	case "unknown command":
		return KindUnknownCommand
	case "invalid argument":
		return KindInvalidArgument
	case "no such element":
		return KindElementNotFound
	case "stale element":
		return KindStaleElement
	case "no such frame":
		return KindFrameNotFound
	case "no such tab":
		return KindTabNotFound
	case "no such intercept":
		return KindInterceptNotFound
	case "no such script":
		return KindScriptError
	case "script error":
		return KindScriptError
	case "timeout":
		return KindTimeout
	case "connection closed":
		return KindConnectionClosed
	case "session not found":
		return KindSessionNotFound
	default:
		return KindConnection
	}
}
