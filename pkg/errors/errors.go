// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrOfferNotFound     = errors.New("offer not found")
	ErrExchangeNotFound  = errors.New("exchange not found")
	ErrRewardNotFound    = errors.New("reward not found")
	ErrClaimNotFound     = errors.New("reward claim not found")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrNotEnrolled       = errors.New("user not enrolled in challenge")
	ErrRatingNotFound    = errors.New("rating not found")

	ErrInvalidState         = errors.New("invalid state for requested transition")
	ErrForbidden            = errors.New("caller is not a party to this resource")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrOutOfStock           = errors.New("reward out of stock")
	ErrRewardInactive       = errors.New("reward is not active")
	ErrChallengeInactive    = errors.New("challenge is not active")
	ErrAlreadyConfirmed     = errors.New("party already confirmed this exchange")
	ErrAlreadyCompleted     = errors.New("challenge already completed")
	ErrAlreadyRated         = errors.New("exchange already rated by this user")
	ErrInsufficientProgress = errors.New("challenge progress below requirement")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidRating        = errors.New("rating must be between 1 and 5")
	ErrSelfExchange         = errors.New("cannot open an exchange on your own offer")
	ErrSelfTransfer         = errors.New("cannot transfer credits to yourself")
	ErrDuplicateProposal    = errors.New("buyer already has an open exchange on this offer")

	// ErrBusy is the only retryable failure: a row lock could not be
	// acquired within the configured lock timeout.
	ErrBusy = errors.New("resource busy, retry with backoff")
)

// New returns an error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
