package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount  = errors.New("ledger entry amount must be positive")
	ErrAlreadySettled = errors.New("ledger entry is already settled")
	ErrInvalidOutcome = errors.New("ledger entry settle outcome must be completed or cancelled")
)

// Kind classifies a ledger entry as an earn credit or a withdrawal debit.
type Kind string

const (
	KindEarned    Kind = "earned"
	KindWithdrawn Kind = "withdrawn"
)

func ParseKind(kind string) (Kind, error) {
	switch Kind(kind) {
	case KindEarned:
		return KindEarned, nil
	case KindWithdrawn:
		return KindWithdrawn, nil
	default:
		return "", fmt.Errorf("unknown ledger entry kind: %s", kind)
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(status string) (Status, error) {
	switch Status(status) {
	case StatusPending:
		return StatusPending, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusCancelled:
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown ledger entry status: %s", status)
	}
}

// Entry is an immutable append-only ledger record. Amount is signed:
// positive for earned credits, negative for withdrawal debits. Only the
// status may change after creation, and only once (pending to terminal).
type Entry struct {
	id          string
	userID      string
	amount      int64
	kind        Kind
	status      Status
	description string
	createdAt   time.Time
}

// NewEarned creates a completed earn credit for the given amount.
func NewEarned(userID string, amount int64, description string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	return &Entry{
		id:          uuid.NewString(),
		userID:      userID,
		amount:      amount,
		kind:        KindEarned,
		status:      StatusCompleted,
		description: description,
		createdAt:   time.Now(),
	}, nil
}

// NewHold creates a pending withdrawal debit for the given amount.
// The amount is stored negated.
func NewHold(userID string, amount int64, description string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	return &Entry{
		id:          uuid.NewString(),
		userID:      userID,
		amount:      -amount,
		kind:        KindWithdrawn,
		status:      StatusPending,
		description: description,
		createdAt:   time.Now(),
	}, nil
}

// Restore rehydrates an entry from persisted fields.
func Restore(id, userID string, amount int64, kind, status, description string, createdAt time.Time) (*Entry, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}

	s, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	return &Entry{
		id:          id,
		userID:      userID,
		amount:      amount,
		kind:        k,
		status:      s,
		description: description,
		createdAt:   createdAt,
	}, nil
}

func (e *Entry) ID() string {
	return e.id
}

func (e *Entry) UserID() string {
	return e.userID
}

func (e *Entry) Amount() int64 {
	return e.amount
}

func (e *Entry) Kind() Kind {
	return e.kind
}

func (e *Entry) Status() Status {
	return e.status
}

func (e *Entry) Description() string {
	return e.description
}

func (e *Entry) CreatedAt() time.Time {
	return e.createdAt
}

// Held returns the positive amount reserved by a pending withdrawal debit.
func (e *Entry) Held() int64 {
	return -e.amount
}

// Settle moves a pending entry to a terminal status, exactly once.
func (e *Entry) Settle(outcome Status) error {
	if outcome != StatusCompleted && outcome != StatusCancelled {
		return ErrInvalidOutcome
	}

	if e.status != StatusPending {
		return ErrAlreadySettled
	}

	e.status = outcome

	return nil
}

func (e *Entry) Clone() *Entry {
	clone := *e

	return &clone
}
