// Package settlement computes how a group settles its shared expenses.
//
// Balances are kept from the group's point of view: paying for an expense
// moves the payer's balance down by the full amount, consuming a share moves
// the consumer's balance up by that share. Settling moves money from every
// participant with a positive balance to every participant with a negative
// balance until both reach zero.
package settlement

import (
	"errors"
	"fmt"
)

// ExpenseRecord is one group expense as seen by the engine.
type ExpenseRecord struct {
	Payer  string
	Amount float64
	// Shares maps a participant to the percentage (0-100) of Amount they consumed.
	Shares map[string]float64
}

// Transfer is a single payment instruction: From pays To the given Amount.
type Transfer struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

// Plan bundles the intermediate balances with the transfers derived from them.
type Plan struct {
	Balances  map[string]float64
	Transfers []Transfer
}

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidShare        = errors.New("invalid share percentage")
	ErrEmptyParticipant    = errors.New("empty participant identifier")
	ErrTooManyParticipants = errors.New("too many participants")
)

// InputError reports which record made the engine reject its input.
type InputError struct {
	Index       int // -1 when the problem is not tied to a single record
	Participant string
	Err         error
}

func (e *InputError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("settlement input: %v", e.Err)
	case e.Participant != "":
		return fmt.Sprintf("settlement record %d (%s): %v", e.Index, e.Participant, e.Err)
	default:
		return fmt.Sprintf("settlement record %d: %v", e.Index, e.Err)
	}
}

func (e *InputError) Unwrap() error {
	return e.Err
}
