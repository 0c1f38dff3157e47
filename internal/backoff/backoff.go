// Package backoff computes the child-process restart delay schedule.
package backoff

import "time"

// Cap is the maximum delay ever returned by Delay.
const Cap = 30 * time.Second

// Delay returns the restart delay for the given zero-based restart attempt,
// doubling from 1s and capping at Cap (§4.2.2: 1s, 2s, 4s, ... cap 30s).
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := 1 * time.Second
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= Cap {
			return Cap
		}
	}
	return d
}
