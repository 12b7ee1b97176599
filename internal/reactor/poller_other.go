//go:build !linux

package reactor

import "errors"

// NewPoller returns an error on platforms without epoll.
func NewPoller() (Poller, error) {
	return nil, errors.New("reactor: this platform is not supported")
}
