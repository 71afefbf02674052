package supervisor

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
)

// bootstrapPayload is serialized into the bootstrap document's inline
// script as the WEBDRIVER_INIT message body. The extension's content
// script validates wsUrl is loopback before forwarding it to the
// background script; this document is the only channel by which a
// freshly launched session learns its own identity.
type bootstrapPayload struct {
	WsUrl     string `json:"wsUrl"`
	SessionId uint32 `json:"sessionId"`
}

// buildBootstrapURL renders the "data:text/html,..." start URL Firefox
// is launched against.
func buildBootstrapURL(poolURL string, sessionID common.SessionId) (string, error) {
	payload, err := json.Marshal(bootstrapPayload{WsUrl: poolURL, SessionId: uint32(sessionID)})
	if err != nil {
		return "", common.NewJSONError(err)
	}

	html := fmt.Sprintf(`<!DOCTYPE html><html><head><meta charset="utf-8"></head><body><script>
window.postMessage({type: "WEBDRIVER_INIT", payload: %s}, "*");
</script></body></html>`, payload)

	return "data:text/html," + url.PathEscape(html), nil
}
