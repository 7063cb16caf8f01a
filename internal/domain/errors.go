package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindValidation    ErrorKind = "validation"
	KindConflict      ErrorKind = "conflict"
	KindForbidden     ErrorKind = "forbidden"
	KindPermanentRule ErrorKind = "permanent_rule"
)

// Sentinels for errors.Is; any *Error of the same kind matches.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrPermanentRule = &Error{Kind: KindPermanentRule}
)

// Error is the structured error returned by every engine operation. Message is
// safe to show to an end user; Fields carries the ids involved.
type Error struct {
	Kind    ErrorKind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Fields[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// With returns a copy of e with an extra id field.
func (e *Error) With(key, value string) *Error {
	cp := *e
	cp.Fields = make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

func NotFound(entity, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: entity + " not found",
		Fields:  map[string]string{entity + "_id": id},
	}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func PermanentRulef(format string, args ...any) *Error {
	return &Error{Kind: KindPermanentRule, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.As(err, new(*SchedulingConflictError)) {
		return KindConflict
	}
	return ""
}

// SchedulingConflictError reports the conflicts that blocked a claim or swap.
type SchedulingConflictError struct {
	WorkerID  string
	Conflicts []Conflict
}

func (e *SchedulingConflictError) Error() string {
	types := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		types = append(types, string(c.Type))
	}
	return fmt.Sprintf("conflict: worker %s has scheduling conflicts [%s]", e.WorkerID, strings.Join(types, ", "))
}

func (e *SchedulingConflictError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindConflict && t.Message == ""
}
