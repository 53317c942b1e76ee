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

// Unit is a materialization unit: an opaque, user-supplied producer of
// code/data advertising the symbols it will eventually provide. Materialize
// is invoked by the session's dispatch hook (possibly on another
// goroutine) once any of the unit's symbols are looked up; it must
// eventually call exactly one terminal method on resp for every name it
// owns (directly, via Replace, or via Delegate) — NotifyResolved+
// NotifyEmitted, or FailMaterialization.
type Unit interface {
	// Symbols reports the flag set this unit promises, keyed by name.
	Symbols() map[string]Flags
	// Materialize performs the actual work. ns is the namespace the unit
	// was defined in.
	Materialize(ns *Namespace, resp *Responsibility)
	// Discard is called when name was claimed by a later, non-weak
	// definition before this unit was ever dispatched, when this unit
	// defines name as weak and an undispatched weak definition of it
	// already exists, or when name is removed from the namespace while
	// still NeverSearched. Embed
	// BaseUnit for a no-op implementation.
	Discard(ns *Namespace, name string)
	// Destroyed is called exactly once, when the unit no longer owns any
	// unresolved promised symbol (all either materialized, discarded,
	// failed or handed off). Embed BaseUnit for a no-op implementation.
	Destroyed()
}

// BaseUnit is an embeddable convenience implementing Discard/Destroyed as
// no-ops, so a Unit only needs to supply Symbols and Materialize.
type BaseUnit struct{}

func (BaseUnit) Discard(*Namespace, string) {}
func (BaseUnit) Destroyed()                 {}

// Generator is a fallback producer consulted when a lookup misses all
// existing symbol table entries. Generators run in the order they were
// registered with Namespace.AddGenerator; the first to produce any of the
// requested names wins for those names.
type Generator interface {
	TryToGenerate(ns *Namespace, names []string) (produced map[string]EvaluatedSymbol, err error)
}

// GeneratorFunc adapts a plain function to a Generator.
type GeneratorFunc func(ns *Namespace, names []string) (map[string]EvaluatedSymbol, error)

func (f GeneratorFunc) TryToGenerate(ns *Namespace, names []string) (map[string]EvaluatedSymbol, error) {
	return f(ns, names)
}

// absoluteUnit wraps a pre-evaluated symbol map. Namespace.DefineAbsolute
// builds one per call and passes it to Discard when a weak name loses to
// an existing weak definition; the Ready entries it creates carry no unit.
type absoluteUnit struct {
	BaseUnit
	symbols map[string]EvaluatedSymbol
}

func (u *absoluteUnit) Symbols() map[string]Flags {
	out := make(map[string]Flags, len(u.symbols))
	for name, sym := range u.symbols {
		out[name] = sym.Flags
	}
	return out
}

func (u *absoluteUnit) Materialize(ns *Namespace, resp *Responsibility) {
	// never dispatched: DefineAbsolute puts these straight into Ready.
}
