//go:build windows

package runner

import (
	"os"
	"os/exec"
	"strconv"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}

// Interrupt has no graceful form on Windows; the tree is killed outright.
func Interrupt(p *os.Process) error {
	return taskKiller{}.KillTree(p.Pid)
}

// killLeftovers is a no-op: once the root has exited its pid may be reused, and
// taskkill /T can no longer find the orphaned children through it.
func killLeftovers(TreeKiller, int) error { return nil }

type taskKiller struct{}

// NewTreeKiller returns the platform strategy: taskkill over the whole tree,
// falling back to killing the root process.
func NewTreeKiller() TreeKiller {
	return taskKiller{}
}

func (taskKiller) KillTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := exec.Command("taskkill", "/pid", strconv.Itoa(pid), "/T", "/F").Run()
	if err == nil {
		return nil
	}
	proc, findErr := os.FindProcess(pid)
	if findErr != nil {
		return err
	}
	if killErr := proc.Kill(); killErr != nil {
		return err
	}
	return nil
}
