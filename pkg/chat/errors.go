package chat

import (
	"errors"
	"fmt"
)

// Pipeline-level error classes. Store-level classes (unavailable, overloaded,
// invalid, timeout) live in pkg/memory next to the interfaces they annotate.
var (
	// ErrSpoofing marks a message whose claimed role contradicts its
	// attribution, such as a user carrying the assistant role.
	ErrSpoofing = errors.New("chat: identity spoofing detected")

	// ErrSuspiciousContent marks content matching prompt-injection patterns.
	// Suspicious messages are processed but flagged.
	ErrSuspiciousContent = errors.New("chat: suspicious content")

	// ErrBudgetExceeded marks a prompt that cannot be reduced below the
	// token budget.
	ErrBudgetExceeded = errors.New("chat: token budget exceeded")

	// ErrPersistenceFailure marks a turn whose durable write failed after
	// the reply was already delivered.
	ErrPersistenceFailure = errors.New("chat: persistence failure")
)

// BudgetExceededError reports how far over budget an irreducible prompt was.
// It matches ErrBudgetExceeded under errors.Is.
type BudgetExceededError struct {
	Tokens int
	Budget int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("chat: prompt of %d tokens exceeds budget of %d", e.Tokens, e.Budget)
}

func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }
