//go:build windows

package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

func shellCommand(ctx context.Context, shell, script string) *exec.Cmd {
	if shell == "" || shell == "sh" {
		shell = "cmd"
	}
	// cmd has no -e; chain the lines so the first failure stops the run.
	lines := strings.Split(script, "\n")
	return exec.CommandContext(ctx, shell, "/C", strings.Join(lines, " && "))
}

func configureProcessGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pid := cmd.Process.Pid
		if pid <= 0 {
			return nil
		}
		// /T takes the whole tree down, /F forces it.
		_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()

		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
}
