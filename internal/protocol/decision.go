package protocol

import "encoding/json"

// DecisionAction is the closed set of actions an intercept decider may
// return for a reply-requiring network event.
type DecisionAction string

const (
	ActionAllow        DecisionAction = "allow"
	ActionBlock        DecisionAction = "block"
	ActionRedirect     DecisionAction = "redirect"
	ActionModifyHeader DecisionAction = "modifyHeaders"
	ActionModifyBody   DecisionAction = "modifyBody"
)

// Decision is the reply payload of an EventReply for a reply-requiring
// network event. Only the fields relevant to Action are populated.
type Decision struct {
	Action  DecisionAction    `json:"action"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// AllowDecision is the default fallback reply sent when no decider is
// registered for an intercept, or the registered decider fails to
// produce a result within the event-reply timeout. Falling back to
// "allow" keeps the browser's network path from stalling.
var AllowDecision = Decision{Action: ActionAllow}

// Marshal encodes the Decision as the `result` field of an EventReply.
func (d Decision) Marshal() (json.RawMessage, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// interceptParams is the subset of a reply-requiring event's params the
// dispatcher needs to route the event to its decider.
type interceptParams struct {
	InterceptId string `json:"interceptId"`
}

// subscriptionParams is the subset of a plain event's params the
// dispatcher needs to route the event to its subscriber.
type subscriptionParams struct {
	SubscriptionId string `json:"subscriptionId"`
}

// ParseInterceptId extracts the interceptId field from a reply-requiring
// event's raw params.
func ParseInterceptId(params json.RawMessage) (string, error) {
	var p interceptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return "", err
	}
	return p.InterceptId, nil
}

// ParseSubscriptionId extracts the subscriptionId field from a plain
// event's raw params, if present. browsingContext.load-family events
// carry no subscriptionId and are instead topic-addressed; callers
// should fall back to topic routing when this returns an empty string.
// Topic routing is keyed by event method only: a topic callback receives
// the event for every tab and frame of the session, not per tab/frame.
func ParseSubscriptionId(params json.RawMessage) (string, error) {
	var p subscriptionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return "", err
	}
	return p.SubscriptionId, nil
}

// replyRequiringMethods is the closed set of event methods that require
// an EventReply. network.requestBody is deliberately absent: request
// bodies are observe-only, while response bodies may be modified.
var replyRequiringMethods = map[string]bool{
	"network.beforeRequestSent": true,
	"network.requestHeaders":    true,
	"network.responseHeaders":   true,
	"network.responseBody":      true,
}

// IsReplyRequiring reports whether an event method requires the client
// to send back an EventReply.
func IsReplyRequiring(method string) bool {
	return replyRequiringMethods[method]
}
