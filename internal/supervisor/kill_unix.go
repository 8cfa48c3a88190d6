//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcAttributes puts the child in its own process group so killTree can
// take out the whole tree in one signal.
func setProcAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(pid int) error {
	// negative pid signals the whole process group
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}
