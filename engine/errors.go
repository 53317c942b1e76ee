/*
Copyright (C) 2026  jitcore contributors

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
package engine

import "fmt"

// ErrorKind classifies an Error so callers can branch on errors.Is without
// parsing strings.
type ErrorKind int

const (
	_ ErrorKind = iota
	ErrDuplicateDefinition
	ErrSymbolsNotFound
	ErrSymbolsCouldNotBeRemoved
	ErrFailedToMaterialize
	ErrGenerator
	ErrReentrantBlockingLookup
)

func (k ErrorKind) String() string {
	switch k {
	case ErrDuplicateDefinition:
		return "DuplicateDefinition"
	case ErrSymbolsNotFound:
		return "SymbolsNotFound"
	case ErrSymbolsCouldNotBeRemoved:
		return "SymbolsCouldNotBeRemoved"
	case ErrFailedToMaterialize:
		return "FailedToMaterialize"
	case ErrGenerator:
		return "Generator"
	case ErrReentrantBlockingLookup:
		return "ReentrantBlockingLookup"
	default:
		return "Unknown"
	}
}

// Error is the engine's single error type: a machine-readable Kind plus a
// human diagnostic, and (where relevant) the symbol names involved.
type Error struct {
	Kind    ErrorKind
	Names   []string
	Message string
	Wrapped error // underlying cause, if any, returned by Unwrap
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Names) > 0 {
		return fmt.Sprintf("%s: %v", e.Kind, e.Names)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is lets errors.Is(err, engine.ErrFailedToMaterialize) work by comparing
// against a bare *Error carrying only a Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

func newError(kind ErrorKind, names []string, format string, args ...any) *Error {
	return &Error{Kind: kind, Names: names, Message: fmt.Sprintf(format, args...)}
}

// Kind is a sentinel you can compare against with errors.Is, e.g.
// errors.Is(err, engine.Kind(engine.ErrSymbolsNotFound)).
func Kind(k ErrorKind) error { return &Error{Kind: k} }
