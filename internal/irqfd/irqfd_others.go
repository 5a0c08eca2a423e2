//go:build !linux

// Package irqfd couples eventfds to distributor interrupt lines. It is only
// functional on Linux.
package irqfd

import (
	"context"

	"github.com/tinyrange/virq/internal/eventfd"
	"github.com/tinyrange/virq/internal/vgic"
)

type Notifier struct{}

func New(dist *vgic.Distributor, intid uint32) (*Notifier, error) {
	return nil, eventfd.ErrUnsupported
}

func (n *Notifier) Eventfd() int                    { return -1 }
func (n *Notifier) Trigger() error                  { return eventfd.ErrUnsupported }
func (n *Notifier) Start(ctx context.Context) error { return eventfd.ErrUnsupported }
func (n *Notifier) Close() error                    { return eventfd.ErrUnsupported }
