package service

import (
	"errors"
	"fmt"

	"github.com/vaidashi/quote-service/internal/repository"
	apperrors "github.com/vaidashi/quote-service/pkg/errors"
)

// quoteError translates store errors for a quote operation into AppErrors.
// op completes the sentence "Cannot <op> when quote status is <status>".
func quoteError(op, quoteID string, err error) error {
	var conflict *repository.StatusConflictError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &conflict):
		return apperrors.NewBusinessError(fmt.Sprintf("Cannot %s when quote status is %s", op, conflict.Status)).
			WithContext("quote_id", conflict.QuoteID).
			WithContext("status", string(conflict.Status))
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("Quote with id: %s was not found", quoteID))
	default:
		return err
	}
}

// orderQuoteError translates a failed lookup of the quote backing an order
func orderQuoteError(orderID string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFoundError(fmt.Sprintf("No quote found for order %s", orderID))
	}
	return err
}
