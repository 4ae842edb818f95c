package simulator

import (
	"context"
	"time"

	"github.com/backkem/keyturner/pkg/ble"
)

// DefaultAdvertisingInterval is how often Scanner reports each lock.
const DefaultAdvertisingInterval = 100 * time.Millisecond

// Scanner is a ble.Scanner that reports the advertisements of simulated
// locks.
type Scanner struct {
	Locks    []*Lock
	Interval time.Duration
}

// NewScanner creates a scanner for locks.
func NewScanner(locks ...*Lock) *Scanner {
	return &Scanner{Locks: locks, Interval: DefaultAdvertisingInterval}
}

// Scan implements ble.Scanner. The first round is reported immediately.
func (s *Scanner) Scan(ctx context.Context, fn func(ble.Advertisement)) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultAdvertisingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, l := range s.Locks {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(l.Advertisement())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ ble.Scanner = (*Scanner)(nil)
