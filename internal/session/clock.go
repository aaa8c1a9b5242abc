package session

import "time"

// Clock abstracts the 1 Hz heartbeat driving a session so tests can step
// time manually.
type Clock interface {
	// Tick delivers at most one value per elapsed second.
	Tick() <-chan time.Time
	Now() time.Time
	Stop()
}

// TickerClock is the production Clock backed by a time.Ticker.
type TickerClock struct {
	ticker *time.Ticker
}

// NewTickerClock creates a Clock ticking once per second.
func NewTickerClock() *TickerClock {
	return &TickerClock{ticker: time.NewTicker(time.Second)}
}

func (c *TickerClock) Tick() <-chan time.Time { return c.ticker.C }
func (c *TickerClock) Now() time.Time         { return time.Now() }
func (c *TickerClock) Stop()                  { c.ticker.Stop() }

// FocusMonitor delivers focus-loss signals reported by the client. The
// channel closing means the source went away, not that focus was regained.
type FocusMonitor interface {
	Events() <-chan struct{}
}

// ChannelFocusMonitor adapts a plain channel (fed by a websocket reader or a
// test) into a FocusMonitor.
type ChannelFocusMonitor struct {
	ch chan struct{}
}

// NewChannelFocusMonitor creates a monitor with a small buffer so reporting
// never blocks the feeder.
func NewChannelFocusMonitor() *ChannelFocusMonitor {
	return &ChannelFocusMonitor{ch: make(chan struct{}, 8)}
}

func (m *ChannelFocusMonitor) Events() <-chan struct{} { return m.ch }

// Report signals one focus loss. Drops the event if the buffer is full.
func (m *ChannelFocusMonitor) Report() {
	select {
	case m.ch <- struct{}{}:
	default:
	}
}

// Close releases the monitor. Report must not be called afterwards.
func (m *ChannelFocusMonitor) Close() { close(m.ch) }
