//go:build !linux

package strands

// NewPoller constructs the default poller for this platform.
// Outside Linux this is a [ChannelPoller], so IO registrations fail with [ErrNotImplemented].
func NewPoller() (Poller, error) {
	return NewChannelPoller()
}
