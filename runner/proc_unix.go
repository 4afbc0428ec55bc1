//go:build !windows

package runner

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
)

func shellCommand(command string) *exec.Cmd {
	cmd := exec.Command("/bin/sh", "-c", command)
	// The child leads its own process group so the whole tree can be
	// signalled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// Interrupt asks p to shut down on its own. Callers that need a hard stop
// follow up with exec.Cmd.WaitDelay.
func Interrupt(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// killLeftovers signals the group of a command that may already have exited.
// The group outlives its leader for as long as any member is alive.
func killLeftovers(k TreeKiller, pid int) error {
	return k.KillTree(pid)
}

// ProcessSignaler sends unix signals to a process or, with a negative pid, a
// process group.
type ProcessSignaler interface {
	Signal(pid int, signal syscall.Signal) error
}

type defaultProcessSignaler struct{}

func (defaultProcessSignaler) Signal(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

type groupKiller struct {
	signaler ProcessSignaler
}

// NewTreeKiller returns the platform strategy: SIGKILL to the process group
// the command leads.
func NewTreeKiller() TreeKiller {
	return groupKiller{signaler: defaultProcessSignaler{}}
}

// KillTree signals the group led by pid. The shell may already be reaped
// while its children live on, so the group is addressed by pid rather than
// looked up.
func (k groupKiller) KillTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := k.signaler.Signal(-pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
