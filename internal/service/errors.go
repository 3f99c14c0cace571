package service

import (
	"errors"
	"fmt"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
)

// RejectError is a request failure that should be reported to the sending
// connection with Code.
type RejectError struct {
	Code    string
	Message string
	Err     error
}

func (e *RejectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RejectError) Unwrap() error {
	return e.Err
}

func reject(code, message string) error {
	return &RejectError{Code: code, Message: message}
}

func rejectWrap(code, message string, err error) error {
	return &RejectError{Code: code, Message: message, Err: err}
}

// ErrorCode maps err to the wire error code sent back to a client.
func ErrorCode(err error) string {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.Code
	}
	return domain.ErrCodeInternalError
}

// ErrorMessage returns the client-facing text for err. Internal failures are
// not described to clients.
func ErrorMessage(err error) string {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return "internal error"
}
