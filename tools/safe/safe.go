package safe

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/tools/errs"
)

// MustNotNil panics if the given value is nil.
// Used for required collaborators at construction time.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// DefaultString returns the dereferenced value of a string pointer,
// or the fallback if the pointer is nil.
func DefaultString(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// Run calls f and converts a panic into an Internal error.
func Run(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	f()
	return nil
}

// SafeGo starts a goroutine whose panic is logged instead of crashing the process.
func SafeGo(name string, f func()) {
	go func() {
		if err := Run(f); err != nil {
			logger.Error("goroutine panic recovered", zap.String("task", name), zap.Error(err))
		}
	}()
}
