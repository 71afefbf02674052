//go:build !linux
// +build !linux

package supervisor

import "os/exec"

// setPdeathsig is a no-op outside Linux: Pdeathsig has no equivalent on
// other platforms supported by syscall.SysProcAttr.
func setPdeathsig(cmd *exec.Cmd) {}
