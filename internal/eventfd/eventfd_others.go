//go:build !linux

package eventfd

type Eventfd struct{}

func New() (*Eventfd, error) { return nil, ErrUnsupported }

func (e *Eventfd) Fd() int                 { return -1 }
func (e *Eventfd) Close() error            { return ErrUnsupported }
func (e *Eventfd) Signal(val uint64) error { return ErrUnsupported }
func (e *Eventfd) Wait() (uint64, error)   { return 0, ErrUnsupported }

type Set struct{}

func NewSet(n int) (*Set, error) { return nil, ErrUnsupported }

func (s *Set) Wake(cpuID int)                 {}
func (s *Set) Wait(cpuID int) (uint64, error) { return 0, ErrUnsupported }
func (s *Set) Close() error                   { return ErrUnsupported }
