package repository

import (
	"errors"
	"fmt"

	"github.com/vaidashi/quote-service/internal/models"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDatabase       = errors.New("database error")
	ErrStatusConflict = errors.New("quote status conflict")
	// ErrIllegalTransition is returned for a status change the quote
	// lifecycle does not allow, before anything is written
	ErrIllegalTransition = errors.New("illegal quote status transition")
)

// StatusConflictError is returned when a conditional quote update matched no
// row because the quote exists but is not in the required state
type StatusConflictError struct {
	QuoteID string
	Status  models.QuoteStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("quote %s is %s", e.QuoteID, e.Status)
}

// Is lets errors.Is(err, ErrStatusConflict) match
func (e *StatusConflictError) Is(target error) bool {
	return target == ErrStatusConflict
}
