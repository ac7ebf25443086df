package merchant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/nkiryanov/essaypay/internal/apperrors"
)

// Error codes of the gateway merchant protocol
const (
	CodeInvalidAmount       = -31001
	CodeTransactionNotFound = -31003
	CodeInvalidState        = -31008
	CodeAccountNotFound     = -31050
	CodeConflict            = -31051

	CodeInternal       = -32400
	CodeAuthFailed     = -32504
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeParseError     = -32700
)

type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     json.RawMessage `json:"id"`
}

type response struct {
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	ID     json.RawMessage `json:"id"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newError(code int, message string, data string) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// Map engine error to the protocol error
func toRPCError(err error) *Error {
	var rpcErr *Error

	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return newError(CodeAccountNotFound, "Account not found", "account")
	case errors.Is(err, apperrors.ErrInvalidAmount):
		return newError(CodeInvalidAmount, "Invalid amount", "amount")
	case errors.Is(err, apperrors.ErrTransactionConflict):
		return newError(CodeConflict, "Transaction already exists with other parameters", "id")
	case errors.Is(err, apperrors.ErrTransactionNotFound):
		return newError(CodeTransactionNotFound, "Transaction not found", "id")
	case errors.Is(err, apperrors.ErrInvalidState):
		return newError(CodeInvalidState, "Operation is not allowed in current transaction state", "state")
	default:
		return newError(CodeInternal, "Internal error", "")
	}
}

// userID accepts both 1001 and "1001"
type userID int64

func (u *userID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 1 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}

	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("user_id must be an integer: %w", err)
	}

	*u = userID(n)
	return nil
}

func (u userID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(u), 10))), nil
}

type account struct {
	UserID userID `json:"user_id"`
}
