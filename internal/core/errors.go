package core

import (
	"errors"
	"maps"
	"net/http"
)

type ErrorCode int

const (
	// ErrorCodeUnexpected covers malformed queries, allocation failures and
	// anything else that should never happen. Always fatal.
	ErrorCodeUnexpected ErrorCode = iota
	// ErrorCodeTransient is a transport timeout or non-2xx answer.
	ErrorCodeTransient
	// ErrorCodeIntegrity is a size or hash mismatch. Never retried in the same pass.
	ErrorCodeIntegrity
	// ErrorCodeResource is a disk space or directory create/delete failure.
	ErrorCodeResource
	// ErrorCodeConfiguration is a missing or corrupt version descriptor or an
	// undecodable manifest.
	ErrorCodeConfiguration
	ErrorCodeNotFound
	ErrorCodeConflict
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeTransient:
		return "transient"
	case ErrorCodeIntegrity:
		return "integrity"
	case ErrorCodeResource:
		return "resource"
	case ErrorCodeConfiguration:
		return "configuration"
	case ErrorCodeNotFound:
		return "not_found"
	case ErrorCodeConflict:
		return "conflict"
	}
	return "unexpected"
}

var (
	ErrInsufficientSpace = errors.New("insufficient disk space")
	ErrBusy              = errors.New("another operation is in progress")
)

type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	Operation   string
	Meta        map[string]string
	RetryPolicy bool
	// SafeToShow indicates is safe to show msg to users.
	SafeToShow bool
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); !ok {
		return false
	} else {
		return e.Code == t.Code
	}
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func (e *AppError) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case ErrorCodeConflict:
		return http.StatusConflict
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeTransient:
		return http.StatusBadGateway
	case ErrorCodeResource:
		return http.StatusInsufficientStorage
	case ErrorCodeConfiguration, ErrorCodeIntegrity:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// PublicMessage is the terminal status line shown to a user.
func (e *AppError) PublicMessage() string {
	if e == nil {
		return "internal error"
	}
	if e.SafeToShow {
		return e.Message
	}
	return "internal error"
}

// Clone performs a copy of the error + deep-copy of Meta.
func (e *AppError) Clone() *AppError {
	if e == nil {
		return nil
	}
	c := *e
	if e.Meta == nil {
		return &c
	}

	c.Meta = make(map[string]string, len(e.Meta))
	maps.Copy(c.Meta, e.Meta)

	return &c
}

// WithOper returns a new copy of error with operation.
func (e *AppError) WithOper(o string) *AppError {
	if e == nil {
		return nil
	}
	c := e.Clone()
	c.Operation = o

	return c
}

// WithMeta returns a new copy of error with new key-value meta added.
func (e *AppError) WithMeta(k, v string) *AppError {
	if e == nil {
		return nil
	}
	c := e.Clone()
	if c.Meta == nil {
		c.Meta = make(map[string]string, 1)
	}
	c.Meta[k] = v
	return c
}

func AsAppError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost AppError in the chain, or
// ErrorCodeUnexpected.
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrorCodeUnexpected
}

// UserMessage is what a host shell should display for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.PublicMessage()
	}
	return "internal error"
}

type AppErrorBuilder struct {
	code    ErrorCode
	message string
	err     error

	operation   string
	meta        map[string]string
	retryPolicy bool
	safeToShow  bool
}

func NewAppErrorBuilder(code ErrorCode) *AppErrorBuilder {
	return &AppErrorBuilder{
		code: code,
	}
}
func (b *AppErrorBuilder) Message(m string) *AppErrorBuilder {
	b.message = m
	return b
}
func (b *AppErrorBuilder) Err(e error) *AppErrorBuilder {
	b.err = e
	return b
}
func (b *AppErrorBuilder) Oper(o string) *AppErrorBuilder {
	b.operation = o
	return b
}
func (b *AppErrorBuilder) Meta(k, v string) *AppErrorBuilder {
	if b.meta == nil {
		b.meta = make(map[string]string, 1)
	}
	b.meta[k] = v
	return b
}
func (b *AppErrorBuilder) RetryPolicy(r bool) *AppErrorBuilder {
	b.retryPolicy = r
	return b
}
func (b *AppErrorBuilder) SafeToShow(safe bool) *AppErrorBuilder {
	b.safeToShow = safe
	return b
}
func (b *AppErrorBuilder) Build() *AppError {
	meta := b.meta
	b.meta = nil // if builder is reused
	return &AppError{
		Code:        b.code,
		Message:     b.message,
		Err:         b.err,
		Operation:   b.operation,
		Meta:        meta,
		RetryPolicy: b.retryPolicy,
		SafeToShow:  b.safeToShow,
	}
}

// Some useful constructors. All of them are safe to show: the message is
// the terminal status line for the host shell.

func NewTransientError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeTransient).
		Message(message).
		Err(err).
		Oper(op).
		RetryPolicy(true).
		SafeToShow(true).
		Build()
}

func NewIntegrityError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeIntegrity).
		Message(message).
		Err(err).
		Oper(op).
		SafeToShow(true).
		Build()
}

func NewResourceError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeResource).
		Message(message).
		Err(err).
		Oper(op).
		SafeToShow(true).
		Build()
}

func NewConfigurationError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeConfiguration).
		Message(message).
		Err(err).
		Oper(op).
		SafeToShow(true).
		Build()
}

func NewUnexpectedError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeUnexpected).
		Message(message).
		Err(err).
		Oper(op).
		SafeToShow(false).
		Build()
}

func NewInsufficientSpaceError(required, free uint64, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeResource).
		Message("not enough free disk space").
		Err(ErrInsufficientSpace).
		Oper(op).
		Meta("required_bytes", formatUint(required)).
		Meta("free_bytes", formatUint(free)).
		SafeToShow(true).
		Build()
}

func NewBusyError(op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeConflict).
		Message("an update operation is already running").
		Err(ErrBusy).
		Oper(op).
		SafeToShow(true).
		Build()
}

func NewRunNotFoundError(runID string, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeNotFound).
		Message("run " + runID + " not found").
		Oper(op).
		SafeToShow(true).
		Build()
}
