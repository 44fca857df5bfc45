package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/pawchat/internal/chat"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewServiceUnavailableError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    lower(http.StatusText(http.StatusServiceUnavailable)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

// errorFor maps a chat error to its HTTP response.
func errorFor(err error) *ApiError {
	var errResp *ApiError
	switch {
	case errors.Is(err, chat.ErrUnauthenticated):
		errResp = NewUnauthorizedError()
	case errors.Is(err, chat.ErrInvalidPayload):
		errResp = NewBadRequestError()
	case errors.Is(err, chat.ErrSameUser):
		errResp = NewBadRequestError()
		errResp.Message = chat.ErrSameUser.Error()
	case errors.Is(err, chat.ErrUnknownUser):
		errResp = NewNotFoundError()
		errResp.Message = chat.ErrUnknownUser.Error()
	case errors.Is(err, chat.ErrNotFound):
		errResp = NewNotFoundError()
	case errors.Is(err, chat.ErrNotAParticipant), errors.Is(err, chat.ErrNotAuthorizedForRoom):
		errResp = NewForbiddenError()
	default:
		return NewServiceUnavailableError(err)
	}

	errResp.Err = err
	return errResp
}
