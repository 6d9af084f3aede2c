// Package errs holds the error taxonomy shared by the ledger, gateway,
// checkout and webhook packages.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrReplayNoOp marks a webhook or transition that targeted an unknown
	// or already terminal transaction. It is acknowledged, never surfaced.
	ErrReplayNoOp = errors.New("replay: nothing to apply")
)

// ValidationError rejects bad input before any external call or write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// UnsupportedCorridorError is returned when a gateway has no provider code
// for a (country, payment method) pair.
type UnsupportedCorridorError struct {
	Provider string
	Country  string
	Method   string
}

func (e *UnsupportedCorridorError) Error() string {
	return fmt.Sprintf("unsupported corridor: %s does not handle %s in %s", e.Provider, e.Method, e.Country)
}

// GatewayError is a provider rejection or timeout. The message is persisted
// on the failed transaction.
type GatewayError struct {
	Provider string
	Message  string
	Timeout  bool
}

func (e *GatewayError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("gateway %s timed out: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("gateway %s error: %s", e.Provider, e.Message)
}

// PersistenceError wraps a storage failure. The surrounding operation has
// been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persistence wraps err unless it is nil or already classified.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	var ve *ValidationError
	if errors.As(err, &pe) || errors.As(err, &ve) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrReplayNoOp) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCorridor reports whether err is an UnsupportedCorridorError.
func IsCorridor(err error) bool {
	var ce *UnsupportedCorridorError
	return errors.As(err, &ce)
}

// IsGateway reports whether err is a GatewayError.
func IsGateway(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
