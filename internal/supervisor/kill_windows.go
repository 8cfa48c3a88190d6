//go:build windows

package supervisor

import (
	"os/exec"
	"strconv"
)

func setProcAttributes(cmd *exec.Cmd) {}

func killTree(pid int) error {
	// taskkill /T kills the process and its descendants
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}
