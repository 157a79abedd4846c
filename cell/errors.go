/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package cell

import "fmt"

// Kind identifies one of the recoverable error categories a Manager or
// Transaction can raise. Callers match on Kind rather than on a sentinel
// error value so that wrapped causes (backend-io, codec) still compare
// correctly through errors.Is/errors.As.
type Kind uint8

const (
	KindEmptyCell Kind = iota
	KindTransactionConflict
	KindRetryExhausted
	KindRetryTimeout
	KindDetachedMutation
	KindAliasing
	KindRefreshDuringTransaction
	KindBackendIO
	KindCodec
)

func (k Kind) String() string {
	switch k {
	case KindEmptyCell:
		return "empty-cell"
	case KindTransactionConflict:
		return "transaction-conflict"
	case KindRetryExhausted:
		return "retry-exhausted"
	case KindRetryTimeout:
		return "retry-timeout"
	case KindDetachedMutation:
		return "detached-mutation"
	case KindAliasing:
		return "aliasing"
	case KindRefreshDuringTransaction:
		return "refresh-during-transaction"
	case KindBackendIO:
		return "backend-io"
	case KindCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every fallible operation
// in this package. It carries a Kind so callers can branch on the
// taxonomy from spec §7 without string-matching, and an optional cause
// for backend-io/codec failures surfaced from a collaborator.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is lets errors.Is(err, &cell.Error{Kind: X}) match purely on Kind, the
// way callers typically want to test "was this a conflict".
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsConflict reports whether err is (or wraps) a transaction-conflict.
func IsConflict(err error) bool { return hasKind(err, KindTransactionConflict) }

// IsDetached reports whether err is (or wraps) a detached-mutation error.
func IsDetached(err error) bool { return hasKind(err, KindDetachedMutation) }

// IsEmptyCell reports whether err is (or wraps) an empty-cell error.
func IsEmptyCell(err error) bool { return hasKind(err, KindEmptyCell) }

func hasKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
