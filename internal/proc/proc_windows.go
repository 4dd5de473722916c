//go:build windows

package proc

import "os/exec"

func configureProcess(_ *exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, _ bool) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
