package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Dark-Captcha/Firefox-WebDriver/internal/common"
)

// gracePeriod is how long Close waits after the polite termination
// signal before escalating to SIGKILL.
const gracePeriod = 5 * time.Second

// LaunchOptions configures a single Firefox process spawn.
type LaunchOptions struct {
	BinaryPath string
	Headless   bool
	Width      int
	Height     int
	Env        []string
}

// process wraps a running Firefox *exec.Cmd with a graceful-then-forced
// shutdown sequence.
type process struct {
	cmd    *exec.Cmd
	logger *common.Logger

	closeOnce sync.Once
	waitDone  chan struct{}
}

// launchProcess starts Firefox against bootstrapURL using profile as its
// profile directory.
func launchProcess(opts LaunchOptions, profilePath, bootstrapURL string, logger *common.Logger) (*process, error) {
	if _, err := os.Stat(opts.BinaryPath); err != nil {
		return nil, common.NewFirefoxNotFoundError(opts.BinaryPath)
	}

	args := []string{"-profile", profilePath}
	if opts.Headless {
		args = append(args, "-headless")
	}
	if opts.Width > 0 {
		args = append(args, "-width", fmt.Sprintf("%d", opts.Width))
	}
	if opts.Height > 0 {
		args = append(args, "-height", fmt.Sprintf("%d", opts.Height))
	}
	args = append(args, bootstrapURL)

	cmd := exec.Command(opts.BinaryPath, args...)
	setPdeathsig(cmd)
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, common.NewProcessLaunchFailedError(fmt.Sprintf("stdout pipe: %v", err))
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, common.NewProcessLaunchFailedError(fmt.Sprintf("start firefox: %v", err))
	}

	p := &process{cmd: cmd, logger: logger, waitDone: make(chan struct{})}
	go drainToDevNull(stdout)
	go func() {
		_ = cmd.Wait()
		close(p.waitDone)
	}()

	return p, nil
}

// PID returns the launched process's OS process id.
func (p *process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done reports when the process has exited, on its own or via Close.
func (p *process) Done() <-chan struct{} { return p.waitDone }

// Close sends SIGTERM, waits up to gracePeriod, then escalates to
// SIGKILL. Safe to call more than once.
func (p *process) Close() {
	p.closeOnce.Do(func() {
		if p.cmd.Process == nil {
			return
		}
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.logger.Warnf("process:Close", "SIGTERM failed, killing directly: %v", err)
			_ = p.cmd.Process.Kill()
			return
		}

		select {
		case <-p.waitDone:
		case <-time.After(gracePeriod):
			p.logger.Infof("process:Close", "grace period elapsed, sending SIGKILL")
			_ = p.cmd.Process.Kill()
			<-p.waitDone
		}
	})
}

// drainToDevNull consumes and discards r, keeping the process's stdout
// pipe from filling up when no caller wants the output.
func drainToDevNull(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
