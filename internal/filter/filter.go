// Package filter implements the bridge's ordered, named, individually
// toggleable filter chain (§4.6, C6).
package filter

import (
	"sync"
	"time"

	"github.com/gaspardpetit/mcpbridge/internal/logx"
	"github.com/gaspardpetit/mcpbridge/internal/metrics"
	"github.com/gaspardpetit/mcpbridge/internal/wire"
)

// Direction restricts which traffic direction a filter applies to.
type Direction string

const (
	Outbound Direction = "outbound" // client -> bridge -> child
	Inbound  Direction = "inbound"  // child -> bridge -> client
	Both     Direction = "both"
)

func (d Direction) appliesTo(actual Direction) bool {
	return d == Both || d == actual
}

// Action is the result a filter function returns.
type Action int

const (
	Pass Action = iota
	Transform
	Drop
	Block
)

func (a Action) String() string {
	switch a {
	case Pass:
		return "pass"
	case Transform:
		return "transform"
	case Drop:
		return "drop"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Result is what a filter function returns: an action plus, for Transform,
// the replacement message, or for Block, the error to send back.
type Result struct {
	Action  Action
	Message *wire.Message
	Err     *wire.RPCError
}

// Func is a single filter's transformation logic.
type Func func(direction Direction, sessionID string, msg *wire.Message) Result

// entry is a registered filter and its current enabled/disabled state.
type entry struct {
	name        string
	description string
	direction   Direction
	enabled     bool
	fn          Func
}

// Info describes a registered filter for the /filters inspection endpoint.
type Info struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Direction   Direction `json:"direction"`
	Enabled     bool      `json:"enabled"`
}

// Chain is the bridge's ordered filter chain. Filters run in registration
// order; a Drop or Block short-circuits the remaining chain.
type Chain struct {
	mu      sync.RWMutex
	entries []*entry
}

// New constructs an empty Chain.
func New() *Chain {
	return &Chain{}
}

// Register appends a new filter to the end of the chain.
func (c *Chain) Register(name, description string, direction Direction, enabled bool, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, &entry{name: name, description: description, direction: direction, enabled: enabled, fn: fn})
}

// SetEnabled toggles a filter by name. It returns false if no such filter
// is registered.
func (c *Chain) SetEnabled(name string, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.name == name {
			e.enabled = enabled
			return true
		}
	}
	return false
}

// List returns the chain's current state for the /filters endpoint.
func (c *Chain) List() []Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Info, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, Info{Name: e.name, Description: e.description, Direction: e.direction, Enabled: e.enabled})
	}
	return out
}

// Apply runs msg through every enabled filter applicable to direction, in
// registration order. It returns the final action and (possibly replaced)
// message.
func (c *Chain) Apply(direction Direction, sessionID string, msg *wire.Message) Result {
	c.mu.RLock()
	snapshot := make([]*entry, len(c.entries))
	copy(snapshot, c.entries)
	c.mu.RUnlock()

	current := msg
	action := Pass
	for _, e := range snapshot {
		if !e.enabled || !e.direction.appliesTo(direction) {
			continue
		}
		res := safeApply(e, direction, sessionID, current)
		metrics.RecordFilterAction(e.name, res.Action.String())
		switch res.Action {
		case Pass:
			continue
		case Transform:
			if res.Message != nil {
				current = res.Message
			}
			action = Transform
		case Drop, Block:
			return Result{Action: res.Action, Message: current, Err: res.Err}
		}
	}
	return Result{Action: action, Message: current}
}

// safeApply recovers from a panicking filter, logs it, and passes the
// message through unchanged, matching the original proof-of-concept's
// try/except-and-continue behavior.
func safeApply(e *entry, direction Direction, sessionID string, msg *wire.Message) Result {
	defer func() {
		if r := recover(); r != nil {
			logx.Log.Error().Str("filter", e.name).Interface("panic", r).Msg("filter: panicked, passing message through")
		}
	}()
	return e.fn(direction, sessionID, msg)
}

// now is overridable in tests.
var now = time.Now
