package common

import (
	"fmt"
	"runtime"
)

// callerLocation returns "file:line" for the caller `skip` frames up the
// stack, used to annotate log entries when caller reporting is enabled.
func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}
