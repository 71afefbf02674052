//go:build linux
// +build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// setPdeathsig arranges for the child Firefox process to receive SIGKILL
// if this driver process dies first, preventing an orphaned browser.
func setPdeathsig(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = syscall.SIGKILL
}
