// Package apperr is the error taxonomy shared by the scheduling components.
package apperr

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindPermission      Kind = "permission"
	KindNotFound        Kind = "not_found"
	KindSlotUnavailable Kind = "slot_unavailable"
	KindConflict        Kind = "conflict"
	KindInvalidState    Kind = "invalid_state"
	KindInternal        Kind = "internal"
)

type Error struct {
	Kind         Kind
	Message      string
	Alternatives []model.AlternativeVeterinarian
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Permission(format string, args ...any) error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// SlotUnavailable always carries a non-nil alternatives list.
func SlotUnavailable(alts []model.AlternativeVeterinarian, format string, args ...any) error {
	if alts == nil {
		alts = []model.AlternativeVeterinarian{}
	}
	return &Error{Kind: KindSlotUnavailable, Message: fmt.Sprintf(format, args...), Alternatives: alts}
}

// KindOf reports the taxonomy kind of err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
