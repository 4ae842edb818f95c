package exchange

import (
	"math"
	"math/rand"
	"time"
)

// Connect retry backoff parameters.
const (
	// BackoffBase is the growth factor once past BackoffThreshold.
	BackoffBase = 1.6

	// BackoffJitter is the largest fraction added on top of a delay.
	BackoffJitter = 0.25

	// BackoffThreshold is the number of retries that use the plain base
	// delay before growth starts.
	BackoffThreshold = 1
)

// RandomSource provides random values for jitter calculation.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource uses math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// BackoffCalculator computes the delay before a connect retry:
//
//	delay = base * BackoffBase^max(0, n-BackoffThreshold) * (1 + random * BackoffJitter)
//
// where n is the number of attempts already made. The first two retries
// wait the base delay, later ones grow geometrically. Jitter keeps several
// clients that lost the same peer from retrying in lockstep.
type BackoffCalculator struct {
	random RandomSource
}

// NewBackoffCalculator creates a calculator. A nil random uses
// DefaultRandomSource.
func NewBackoffCalculator(random RandomSource) *BackoffCalculator {
	if random == nil {
		random = DefaultRandomSource
	}
	return &BackoffCalculator{random: random}
}

// Calculate returns the delay before retry number attempt (0-based).
func (b *BackoffCalculator) Calculate(base time.Duration, attempt int) time.Duration {
	return b.scaled(base, attempt, 1.0+b.random.Float64()*BackoffJitter)
}

// CalculateMin returns the delay without jitter.
func (b *BackoffCalculator) CalculateMin(base time.Duration, attempt int) time.Duration {
	return b.scaled(base, attempt, 1.0)
}

// CalculateMax returns the delay with full jitter.
func (b *BackoffCalculator) CalculateMax(base time.Duration, attempt int) time.Duration {
	return b.scaled(base, attempt, 1.0+BackoffJitter)
}

func (b *BackoffCalculator) scaled(base time.Duration, attempt int, jitter float64) time.Duration {
	exponent := max(attempt-BackoffThreshold, 0)
	return time.Duration(float64(base) * math.Pow(BackoffBase, float64(exponent)) * jitter)
}
