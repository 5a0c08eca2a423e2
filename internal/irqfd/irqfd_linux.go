//go:build linux

// Package irqfd couples eventfds to distributor interrupt lines: every
// signal on a bound eventfd injects a rising edge on its line, the way KVM
// irqfds let devices raise interrupts without calling into the hypervisor.
package irqfd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/virq/internal/eventfd"
	"github.com/tinyrange/virq/internal/vgic"
	"golang.org/x/sys/unix"
)

// Notifier binds one eventfd to one interrupt id.
type Notifier struct {
	dist  *vgic.Distributor
	intid uint32

	efd  *eventfd.Eventfd
	stop *eventfd.Eventfd

	started   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func New(dist *vgic.Distributor, intid uint32) (*Notifier, error) {
	efd, err := eventfd.New()
	if err != nil {
		return nil, err
	}
	stop, err := eventfd.New()
	if err != nil {
		_ = efd.Close()
		return nil, err
	}
	return &Notifier{
		dist:  dist,
		intid: intid,
		efd:   efd,
		stop:  stop,
		done:  make(chan struct{}),
	}, nil
}

// Eventfd returns the file descriptor a device signals to raise the
// interrupt. The caller must not close it; Close owns both descriptors.
func (n *Notifier) Eventfd() int { return n.efd.Fd() }

// Trigger raises the interrupt from in-process callers.
func (n *Notifier) Trigger() error { return n.efd.Signal(1) }

// Start launches the injection loop. The loop ends when ctx is cancelled or
// Close is called.
func (n *Notifier) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return fmt.Errorf("irqfd: notifier already started")
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = n.stop.Signal(1)
		case <-n.done:
		}
	}()
	go n.run()
	return nil
}

func (n *Notifier) run() {
	defer close(n.done)

	for {
		fds := []unix.PollFd{
			{Fd: int32(n.efd.Fd()), Events: unix.POLLIN},
			{Fd: int32(n.stop.Fd()), Events: unix.POLLIN},
		}

		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			slog.Error("irqfd: poll failed", "intid", n.intid, "err", err)
			return
		}

		if fds[1].Revents&unix.POLLIN != 0 {
			return
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			if _, err := n.efd.Wait(); err != nil {
				slog.Error("irqfd: eventfd read failed", "intid", n.intid, "err", err)
				return
			}
			if err := n.dist.Inject(-1, n.intid, true); err != nil {
				slog.Debug("irqfd: inject rejected", "intid", n.intid, "err", err)
			}
		}
	}
}

// Close stops the injection loop (if running) and releases both eventfds.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		_ = n.stop.Signal(1)
		if n.started.Load() {
			<-n.done
		}
		err := n.efd.Close()
		if cerr := n.stop.Close(); err == nil {
			err = cerr
		}
		n.closeErr = err
	})
	return n.closeErr
}
