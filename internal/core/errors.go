package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the storage layer, the ledger engines and the HTTP
// layer. Validation problems wrap ErrValidation so callers can classify with a
// single errors.Is check while keeping the specific message.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("storage unavailable")

	ErrInvalidAmount       = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidRate         = fmt.Errorf("%w: invalid rate", ErrValidation)
	ErrInvalidCycleTag     = fmt.Errorf("%w: invalid cycle tag", ErrValidation)
	ErrInvalidMovementType = fmt.Errorf("%w: invalid movement type", ErrValidation)
	ErrMissingAccount      = fmt.Errorf("%w: missing account", ErrValidation)
	ErrMissingPerson       = fmt.Errorf("%w: missing person", ErrValidation)
	ErrMissingTransaction  = fmt.Errorf("%w: missing transaction reference", ErrValidation)
	ErrEmptyName           = fmt.Errorf("%w: empty name", ErrValidation)
)
