package balance

import (
	"fmt"
	"time"
)

// InsufficientError reports a failed balance check with the exact shortfall.
type InsufficientError struct {
	Shortfall int64
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("insufficient balance: short %d", e.Shortfall)
}

// Balance is the authoritative per-user points balance. The invariant
// current == totalEarned - totalWithdrawn - sum(active pending holds)
// is maintained by the storage layer, which is the only mutator.
type Balance struct {
	userID         string
	current        int64
	totalEarned    int64
	totalWithdrawn int64
	updatedAt      time.Time
}

// NewBalance creates an empty balance, used on a user's first earn event.
func NewBalance(userID string) *Balance {
	return &Balance{
		userID:    userID,
		updatedAt: time.Now(),
	}
}

// Restore rehydrates a balance from persisted fields.
func Restore(userID string, current, totalEarned, totalWithdrawn int64, updatedAt time.Time) *Balance {
	return &Balance{
		userID:         userID,
		current:        current,
		totalEarned:    totalEarned,
		totalWithdrawn: totalWithdrawn,
		updatedAt:      updatedAt,
	}
}

func (b *Balance) UserID() string {
	return b.userID
}

func (b *Balance) Current() int64 {
	return b.current
}

func (b *Balance) TotalEarned() int64 {
	return b.totalEarned
}

func (b *Balance) TotalWithdrawn() int64 {
	return b.totalWithdrawn
}

func (b *Balance) UpdatedAt() time.Time {
	return b.updatedAt
}

// AddEarned credits an earn event.
func (b *Balance) AddEarned(amount int64) {
	b.current += amount
	b.totalEarned += amount
	b.updatedAt = time.Now()
}

// Hold reserves amount for an in-flight withdrawal. The check and the
// decrement are a single step; callers must serialize access per user.
func (b *Balance) Hold(amount int64) error {
	if b.current < amount {
		return &InsufficientError{Shortfall: amount - b.current}
	}

	b.current -= amount
	b.updatedAt = time.Now()

	return nil
}

// CommitHold finalizes a held amount as withdrawn. The current balance was
// already decremented at hold time and is not touched again.
func (b *Balance) CommitHold(amount int64) {
	b.totalWithdrawn += amount
	b.updatedAt = time.Now()
}

// ReleaseHold re-credits a held amount after a cancelled withdrawal.
func (b *Balance) ReleaseHold(amount int64) {
	b.current += amount
	b.updatedAt = time.Now()
}

func (b *Balance) Clone() *Balance {
	clone := *b

	return &clone
}
