//go:build !windows

package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func shellCommand(ctx context.Context, shell, script string) *exec.Cmd {
	if shell == "" {
		shell = "sh"
	}
	// -e aborts on the first failing command so the exit status reflects it.
	return exec.CommandContext(ctx, shell, "-e", "-c", script)
}

// configureProcessGroup starts the job in its own process group so that
// cancellation reaches every child the script spawned.
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pid := cmd.Process.Pid
		if pid <= 0 {
			return nil
		}
		// With Setpgid the group id is the child's pid.
		if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil || errors.Is(err, syscall.ESRCH) {
			return nil
		}
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
}
