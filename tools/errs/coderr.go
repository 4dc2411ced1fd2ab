package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kinds are the stable, machine-checkable error classes surfaced to callers.
const (
	KindValidation       = "ValidationError"
	KindForbidden        = "Forbidden"
	KindNotFound         = "NotFound"
	KindConflict         = "Conflict"
	KindInvalidOperation = "InvalidOperation"
	KindUnauthorized     = "Unauthorized"
	KindInternal         = "Internal"
)

const (
	ValidationError       = 1001
	ForbiddenError        = 1003
	NotFoundError         = 1004
	ConflictError         = 1009
	InvalidOperationError = 1010
	UnauthorizedError     = 1401
	ServerInternalError   = 1500
)

var kindByCode = map[int]string{
	ValidationError:       KindValidation,
	ForbiddenError:        KindForbidden,
	NotFoundError:         KindNotFound,
	ConflictError:         KindConflict,
	InvalidOperationError: KindInvalidOperation,
	UnauthorizedError:     KindUnauthorized,
	ServerInternalError:   KindInternal,
}

var statusByCode = map[int]int{
	ValidationError:       http.StatusBadRequest,
	ForbiddenError:        http.StatusForbidden,
	NotFoundError:         http.StatusNotFound,
	ConflictError:         http.StatusConflict,
	InvalidOperationError: http.StatusBadRequest,
	UnauthorizedError:     http.StatusUnauthorized,
	ServerInternalError:   http.StatusInternalServerError,
}

// internalMessage is the only text an Internal error ever shows a caller.
const internalMessage = "Server error"

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func Validation(msg string) *CodeError       { return NewCodeError(ValidationError, msg) }
func Forbidden(msg string) *CodeError        { return NewCodeError(ForbiddenError, msg) }
func NotFound(msg string) *CodeError         { return NewCodeError(NotFoundError, msg) }
func Conflict(msg string) *CodeError         { return NewCodeError(ConflictError, msg) }
func InvalidOperation(msg string) *CodeError { return NewCodeError(InvalidOperationError, msg) }
func Unauthorized(msg string) *CodeError     { return NewCodeError(UnauthorizedError, msg) }

// Internal hides detail from the message; detail is kept for logs.
func Internal(detail string) *CodeError {
	return &CodeError{Code: ServerInternalError, Msg: internalMessage, Detail: detail}
}

func (e *CodeError) Kind() string {
	if k, ok := kindByCode[e.Code]; ok {
		return k
	}
	return KindInternal
}

func (e *CodeError) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Wrap attaches a stack trace; errors.As still finds the CodeError.
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e)
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if retErr.Detail == "" {
			retErr.Detail = detail
		} else {
			retErr.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(retErr)
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

// Is matches any CodeError with the same code.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// ===== helpers =====

// New builds a plain error with optional key/value context.
func New(msg string, kv ...any) error {
	return pkgerrors.New(toString(msg, kv))
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

// As returns the CodeError carried by err. Anything else is Internal.
func As(err error) *CodeError {
	if err == nil {
		return nil
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return Internal(err.Error())
}

func KindOf(err error) string {
	if err == nil {
		return ""
	}
	return As(err).Kind()
}

func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return As(err).Status()
}

func IsKind(err error, kind string) bool {
	return err != nil && KindOf(err) == kind
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprint(kv[i]))
		b.WriteString("=")
		if i+1 < len(kv) {
			b.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			b.WriteString("MISSING")
		}
	}
	return b.String()
}
