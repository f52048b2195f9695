// Package notify fans announcements out across the configured outbound
// channels and folds the per-channel results into one success verdict.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pricewatch/internal/catalog"
	"pricewatch/pkg/logx"
)

// Channel is one outbound notification transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, item catalog.Item) error
}

// Policy decides when a multi-channel dispatch counts as published.
type Policy int

const (
	// PolicyAny: one successful channel is enough.
	PolicyAny Policy = iota
	// PolicyAll: every channel must succeed.
	PolicyAll
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return PolicyAny, nil
	case "all":
		return PolicyAll, nil
	default:
		return PolicyAny, fmt.Errorf("unknown success policy %q", s)
	}
}

// ChannelResult is the outcome of one channel's send attempt.
type ChannelResult struct {
	Channel string
	Err     error
}

var ErrNoChannels = errors.New("no notification channels configured")

type Dispatcher struct {
	mu       sync.RWMutex
	channels []Channel
	policy   Policy
	log      logx.Logger
}

func NewDispatcher(channels []Channel, policy Policy, log logx.Logger) *Dispatcher {
	return &Dispatcher{channels: channels, policy: policy, log: log}
}

// SetPolicy swaps the success policy at runtime (config reload).
func (d *Dispatcher) SetPolicy(p Policy) {
	d.mu.Lock()
	d.policy = p
	d.mu.Unlock()
}

// Dispatch sends the announcement to every channel sequentially and
// returns the per-channel outcomes. Channels do not retry here; the
// caller's next sweep is the retry.
func (d *Dispatcher) Dispatch(ctx context.Context, item catalog.Item) []ChannelResult {
	d.mu.RLock()
	channels := d.channels
	d.mu.RUnlock()

	results := make([]ChannelResult, 0, len(channels))
	for _, ch := range channels {
		err := ch.Send(ctx, item)
		if err != nil {
			d.log.Warn("channel send failed",
				logx.String("channel", ch.Name()),
				logx.String("item", item.ID),
				logx.Err(err),
			)
		}
		results = append(results, ChannelResult{Channel: ch.Name(), Err: err})
	}
	return results
}

// Publish dispatches and applies the success policy. It implements
// handsoff.Dispatcher.
func (d *Dispatcher) Publish(ctx context.Context, item catalog.Item) error {
	results := d.Dispatch(ctx, item)
	if len(results) == 0 {
		return ErrNoChannels
	}

	d.mu.RLock()
	policy := d.policy
	d.mu.RUnlock()

	var errs []error
	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		} else {
			errs = append(errs, fmt.Errorf("%s: %w", r.Channel, r.Err))
		}
	}

	switch policy {
	case PolicyAll:
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
	default: // PolicyAny
		if succeeded == 0 {
			return errors.Join(errs...)
		}
	}
	return nil
}
