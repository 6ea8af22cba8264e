//go:build linux

package schedtime

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// LinuxScheduler sets SCHED_FIFO priority and CPU affinity through the
// real syscalls. It holds no state; each method acts on the OS thread of
// the goroutine that calls it, which must have already called
// runtime.LockOSThread.
type LinuxScheduler struct{}

// NewLinuxScheduler returns the real-time scheduler for Linux.
func NewLinuxScheduler() *LinuxScheduler { return &LinuxScheduler{} }

// SetAffinity pins the calling OS thread to the given core.
func (LinuxScheduler) SetAffinity(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(core=%d): %w", core, err)
	}
	return nil
}

// SetPriority sets the calling OS thread's SCHED_FIFO priority.
func (LinuxScheduler) SetPriority(priority Priority) error {
	param := &unix.SchedParam{Priority: int32(priority)}
	if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, param); err != nil {
		return fmt.Errorf("sched_setscheduler(priority=%d): %w", priority, err)
	}
	return nil
}
