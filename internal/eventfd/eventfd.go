// Package eventfd wraps the Linux eventfd primitive used to wake vCPU
// threads and to signal interrupt injections across threads.
package eventfd

import "errors"

var ErrUnsupported = errors.New("eventfd: unsupported on this platform")
