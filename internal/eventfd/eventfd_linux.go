//go:build linux

package eventfd

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Eventfd is a counting eventfd. Signal and Wait may be used concurrently
// from different threads; Wait blocks until the counter is non-zero and
// returns and resets it.
type Eventfd struct {
	fd int
}

func New() (*Eventfd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: create: %w", err)
	}
	return &Eventfd{fd: fd}, nil
}

func (e *Eventfd) Fd() int { return e.fd }

func (e *Eventfd) Close() error {
	return unix.Close(e.fd)
}

func (e *Eventfd) Signal(val uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], val)
	for {
		_, err := unix.Write(e.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("eventfd: signal: %w", err)
		}
		return nil
	}
}

func (e *Eventfd) Wait() (uint64, error) {
	var buf [8]byte
	for {
		_, err := unix.Read(e.fd, buf[:])
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("eventfd: wait: %w", err)
		}
		return binary.NativeEndian.Uint64(buf[:]), nil
	}
}

// Set is a group of eventfds, one per vCPU, usable as a distributor wake
// backend: pass Wake as the WakeFunc and have each vCPU loop block in Wait.
type Set struct {
	fds []*Eventfd
}

func NewSet(n int) (*Set, error) {
	s := &Set{}
	for i := 0; i < n; i++ {
		fd, err := New()
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.fds = append(s.fds, fd)
	}
	return s, nil
}

// Wake signals cpuID's eventfd. Fire and forget: errors and out-of-range
// ids are ignored, matching the wake contract.
func (s *Set) Wake(cpuID int) {
	if cpuID < 0 || cpuID >= len(s.fds) {
		return
	}
	_ = s.fds[cpuID].Signal(1)
}

// Wait blocks until cpuID's eventfd is signalled.
func (s *Set) Wait(cpuID int) (uint64, error) {
	if cpuID < 0 || cpuID >= len(s.fds) {
		return 0, fmt.Errorf("eventfd: vcpu %d out of range", cpuID)
	}
	return s.fds[cpuID].Wait()
}

func (s *Set) Close() error {
	var first error
	for _, fd := range s.fds {
		if err := fd.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.fds = nil
	return first
}
