package httpapi

import "time"

const heartbeatInterval = 15 * time.Second

// heartbeatTicker wraps time.Ticker so tests can substitute a faster one if
// ever needed; production code always uses heartbeatInterval.
type heartbeatTicker struct {
	t *time.Ticker
}

func newHeartbeatTicker() *heartbeatTicker {
	return &heartbeatTicker{t: time.NewTicker(heartbeatInterval)}
}

func (h *heartbeatTicker) C() <-chan time.Time { return h.t.C }
func (h *heartbeatTicker) Stop()               { h.t.Stop() }
