package renderq

import "github.com/cockroachdb/errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("renderq: no store configured")
	ErrStoreClosed     = errors.New("renderq: store closed")
	ErrMigrationFailed = errors.New("renderq: migration failed")

	// Not found errors.
	ErrJobNotFound          = errors.New("renderq: job not found")
	ErrSubscriptionNotFound = errors.New("renderq: webhook subscription not found")
	ErrDLQNotFound          = errors.New("renderq: dlq entry not found")

	// Conflict errors. The specific conflicts wrap ErrConflict so callers
	// can match either the whole family or one member.
	ErrConflict          = errors.New("renderq: conflict")
	ErrAlreadyTerminal   = errors.Wrap(ErrConflict, "job already terminal")
	ErrInvalidTransition = errors.Wrap(ErrConflict, "invalid state transition")
	ErrJobAlreadyExists  = errors.Wrap(ErrConflict, "job already exists")

	// Execution errors.
	ErrExecutionFailure = errors.New("renderq: task execution failed")
	ErrTimeout          = errors.Wrap(ErrExecutionFailure, "task timed out")
	ErrWorkerLost       = errors.Wrap(ErrExecutionFailure, "worker lost")
	ErrExhaustedRetries = errors.New("renderq: retries exhausted")
	ErrNoExecutor       = errors.New("renderq: no task executor registered")

	// Delivery errors.
	ErrDeliveryFailure = errors.New("renderq: webhook delivery failed")
	ErrCircuitOpen     = errors.Wrap(ErrDeliveryFailure, "circuit open")

	// Validation errors.
	ErrInvalidPriority     = errors.New("renderq: invalid priority")
	ErrInvalidSubscription = errors.New("renderq: invalid webhook subscription")
	ErrInvalidConfig       = errors.New("renderq: invalid configuration")
)

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.IsAny(err, ErrJobNotFound, ErrSubscriptionNotFound, ErrDLQNotFound)
}

// IsConflict reports whether err belongs to the conflict family.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether err was caused by invalid caller input. A
// submission for a kind without an executor counts as invalid input.
func IsValidation(err error) bool {
	return errors.IsAny(err, ErrInvalidPriority, ErrInvalidSubscription, ErrInvalidConfig, ErrNoExecutor)
}
