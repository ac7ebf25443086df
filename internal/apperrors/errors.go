package apperrors

import (
	"errors"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNoCreditsLeft   = errors.New("no free or purchased credits left")

	ErrInvalidAmount       = errors.New("amount does not resolve to a positive number of credits")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionConflict = errors.New("transaction already exists with different amount or account")
	ErrInvalidState        = errors.New("transaction state does not allow the operation")

	ErrGatewayUnavailable = errors.New("could not reach payment gateway")

	ErrTokenInvalid = errors.New("service token is invalid")
)
