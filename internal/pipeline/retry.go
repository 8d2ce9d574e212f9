package pipeline

import (
	"fmt"

	"github.com/rahul/querypilot/internal/executor"
)

// Succeeded is the only condition that ends the retry loop early: the query
// ran without error and returned at least one row.
func Succeeded(o executor.Outcome) bool {
	return o.Error == nil && o.Rows != nil && o.RowCount > 0
}

// ShouldRetry reports whether another attempt follows attempt (1-based).
func ShouldRetry(o executor.Outcome, attempt, maxAttempts int) bool {
	return !Succeeded(o) && attempt < maxAttempts
}

// failureReason describes why an outcome did not count as a success.
func failureReason(o executor.Outcome) string {
	switch {
	case o.Error != nil:
		return *o.Error
	case o.Rows == nil || o.RowCount == 0:
		return "no rows returned"
	}
	return ""
}

// retryStatus is the status text emitted after a failed attempt.
func retryStatus(attempt, maxAttempts int, reason string) string {
	if attempt < maxAttempts {
		return fmt.Sprintf("Retrying: attempt %d of %d failed (%s)", attempt, maxAttempts, reason)
	}
	return fmt.Sprintf("Retrying exhausted: attempt %d of %d failed (%s)", attempt, maxAttempts, reason)
}
