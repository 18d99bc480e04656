package domain

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitStatus is the decoded wait status of a child process
type ExitStatus struct {
	Code       int            `json:"code"`
	Signal     syscall.Signal `json:"signal,omitempty"`
	Signaled   bool           `json:"signaled"`
	CoreDumped bool           `json:"core_dumped,omitempty"`
}

// ExitStatusFromWait decodes a raw wait status
func ExitStatusFromWait(ws syscall.WaitStatus) ExitStatus {
	if ws.Signaled() {
		return ExitStatus{
			Code:       -1,
			Signal:     ws.Signal(),
			Signaled:   true,
			CoreDumped: ws.CoreDump(),
		}
	}
	return ExitStatus{Code: ws.ExitStatus()}
}

// Success returns true if the child exited normally with status 0
func (e ExitStatus) Success() bool {
	return !e.Signaled && e.Code == 0
}

// RC returns the exit code, or the negated signal number for signaled children
func (e ExitStatus) RC() int {
	if e.Signaled {
		return -int(e.Signal)
	}
	return e.Code
}

// SignalName returns the symbolic name of the terminating signal (e.g. SIGTERM)
func (e ExitStatus) SignalName() string {
	if !e.Signaled {
		return ""
	}
	return SignalName(e.Signal)
}

func (e ExitStatus) String() string {
	if !e.Signaled {
		return fmt.Sprintf("exit %d", e.Code)
	}
	s := "signal " + e.SignalName()
	if e.CoreDumped {
		s += " (core dumped)"
	}
	return s
}

// SignalName returns the symbolic name for sig, falling back to its number
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal %d", int(sig))
}

// ParseSignal parses a signal given as a name (SIGHUP, HUP) or a number
func ParseSignal(s string) (syscall.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || n > 64 {
			return 0, fmt.Errorf("signal number out of range: %d", n)
		}
		return syscall.Signal(n), nil
	}
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal: %s", s)
}
