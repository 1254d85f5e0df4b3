package domain

import (
	"math"
	"time"
)

const (
	minOffsetCount = 1
	maxOffsetCount = 4
	minOffsetDays  = 1
	maxOffsetDays  = 10
)

// NormalizeOffsets truncates each offset toward zero without altering order
// or count. Callers are expected to validate before storing the result.
func NormalizeOffsets(offsets []float64) []int {
	normalized := make([]int, 0, len(offsets))
	for _, offset := range offsets {
		normalized = append(normalized, int(math.Trunc(offset)))
	}
	return normalized
}

// ValidateOffsets reports whether offsets form a usable retry schedule:
// one to four entries, each between 1 and 10 days after truncation, strictly
// increasing.
func ValidateOffsets(offsets []float64) bool {
	return ValidateNormalizedOffsets(NormalizeOffsets(offsets))
}

// ValidateNormalizedOffsets applies the schedule rules to already-truncated
// day counts, as stored in configuration.
func ValidateNormalizedOffsets(offsets []int) bool {
	if len(offsets) < minOffsetCount || len(offsets) > maxOffsetCount {
		return false
	}
	for i, offset := range offsets {
		if offset < minOffsetDays || offset > maxOffsetDays {
			return false
		}
		if i > 0 && offset <= offsets[i-1] {
			return false
		}
	}
	return true
}

// NextRetry computes the timestamp of the next charge attempt after a
// failure. A nil timestamp with a nil error means the schedule is exhausted
// and the caller should surface a terminal failure. lastAttemptAt must be the
// previously scheduled attempt time and attemptCount the number of attempts
// already made (at least 1).
func NextRetry(lastAttemptAt time.Time, attemptCount int, offsets []int) (*time.Time, error) {
	if lastAttemptAt.IsZero() {
		return nil, ErrMissingLastAttempt
	}
	if attemptCount < 1 {
		return nil, ErrInvalidAttemptCount
	}
	if attemptCount > len(offsets) {
		return nil, nil
	}
	next := lastAttemptAt.Add(time.Duration(offsets[attemptCount-1]) * 24 * time.Hour)
	return &next, nil
}
