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

import (
	"github.com/google/btree"

	"github.com/launix-de/NonLockingReadMap"
)

// Namespace (a JITDylib, in linker terms) is a named container holding
// symbol table entries, units awaiting trigger, and registered definition
// generators. Every symbol lives in exactly one namespace. All mutating
// methods take the owning Session's lock; there is no per-namespace lock.
type Namespace struct {
	session    *Session
	name       string
	table      NonLockingReadMap.NonLockingReadMap[symbolEntry, string]
	generators []Generator

	// index keeps defined names in sorted order alongside the table, so
	// Names doesn't pay a sort on every listing
	index *btree.BTreeG[string]
}

func newNamespace(sess *Session, name string) *Namespace {
	return &Namespace{
		session: sess,
		name:    name,
		table:   NonLockingReadMap.New[symbolEntry, string](),
		index:   btree.NewG[string](8, func(a, b string) bool { return a < b }),
	}
}

func (ns *Namespace) Name() string { return ns.name }

func (ns *Namespace) entryLocked(name string) *symbolEntry {
	return ns.table.Get(name)
}

func (ns *Namespace) addNameIndexLocked(name string) {
	ns.index.ReplaceOrInsert(name)
}

func (ns *Namespace) removeEntryLocked(name string) {
	ns.table.Remove(name)
	ns.index.Delete(name)
}

// Names returns every currently-defined name in this namespace, sorted.
func (ns *Namespace) Names() []string {
	sess := ns.session
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]string, 0, ns.index.Len())
	ns.index.Ascend(func(name string) bool {
		out = append(out, name)
		return true
	})
	return out
}

// unitDoneLocked reports whether unit no longer owns any unresolved name
// in this namespace.
func (ns *Namespace) unitDoneLocked(unit Unit) bool {
	for _, e := range ns.table.GetAll() {
		if e.Unit == unit {
			return false
		}
	}
	return true
}

// neverSearchedNamesLocked returns every name still NeverSearched and owned
// by unit.
func (ns *Namespace) neverSearchedNamesLocked(unit Unit) map[string]struct{} {
	out := make(map[string]struct{})
	for _, e := range ns.table.GetAll() {
		if e.Unit == unit && e.State == NeverSearched {
			out[e.Name] = struct{}{}
		}
	}
	return out
}

// Define registers a materialization unit. Each promised name gets a
// NeverSearched entry owned by the unit; a collision with an existing
// non-weak (or already-materializing) entry fails the whole Define with
// DuplicateDefinition, a weak-vs-weak collision discards the new name, and
// a strong definition over a weak unmaterialized one discards the prior.
func (ns *Namespace) Define(unit Unit) error {
	sess := ns.session
	sess.mu.Lock()
	cq := &completionQueue{}
	err := ns.defineLocked(unit, cq)
	sess.mu.Unlock()
	cq.run()
	return err
}

func (ns *Namespace) defineLocked(unit Unit, cq *completionQueue) error {
	promised := unit.Symbols()

	// pre-scan: an existing non-weak entry, or an existing weak entry
	// that's already past NeverSearched, can never be overridden.
	var conflicts []string
	for name := range promised {
		existing := ns.entryLocked(name)
		if existing == nil {
			continue
		}
		if !existing.Flags.Has(Weak) || existing.State != NeverSearched {
			conflicts = append(conflicts, name)
		}
	}
	if len(conflicts) > 0 {
		return newError(ErrDuplicateDefinition, conflicts, "duplicate definition of %v in %s", conflicts, ns.name)
	}

	owned := make(map[string]struct{}, len(promised))
	for name, flags := range promised {
		existing := ns.entryLocked(name)
		if existing != nil {
			// existing is weak and NeverSearched (checked above); resolve
			// by strength.
			if flags.Has(Weak) {
				// both weak: first definition wins, discard the new one.
				unit.Discard(ns, name)
				continue
			}
			// strong overrides weak: discard the prior definition, and
			// destroy the prior unit if that was its last name.
			prior := existing.Unit
			if prior != nil {
				prior.Discard(ns, name)
			}
			ns.removeEntryLocked(name)
			if prior != nil && prior != unit && ns.unitDoneLocked(prior) {
				ns.session.destroyUnitLocked(prior, cq)
			}
		}
		ns.session.names.Intern(name)
		ns.table.Set(&symbolEntry{
			Name:  name,
			Flags: flags | flagLazy,
			State: NeverSearched,
			Unit:  unit,
		})
		ns.addNameIndexLocked(name)
		ns.session.fireTransition(cq, SymbolRef{Namespace: ns.name, Name: name}, Invalid, NeverSearched)
		owned[name] = struct{}{}
	}

	if len(owned) == 0 {
		ns.session.destroyUnitLocked(unit, cq)
	}
	return nil
}

// DefineAbsolute is the convenience "define with immediately-known
// addresses" form: entries enter Ready directly.
func (ns *Namespace) DefineAbsolute(symbols map[string]EvaluatedSymbol) error {
	sess := ns.session
	sess.mu.Lock()
	unit := &absoluteUnit{symbols: symbols}

	var conflicts []string
	for name := range symbols {
		existing := ns.entryLocked(name)
		if existing != nil && (!existing.Flags.Has(Weak) || existing.State != NeverSearched) {
			conflicts = append(conflicts, name)
		}
	}
	if len(conflicts) > 0 {
		sess.mu.Unlock()
		return newError(ErrDuplicateDefinition, conflicts, "duplicate definition of %v in %s", conflicts, ns.name)
	}

	cq := &completionQueue{}
	for name, sym := range symbols {
		existing := ns.entryLocked(name)
		if existing != nil {
			if sym.Flags.Has(Weak) {
				unit.Discard(ns, name)
				continue
			}
			prior := existing.Unit
			if prior != nil {
				prior.Discard(ns, name)
			}
			ns.removeEntryLocked(name)
			if prior != nil && ns.unitDoneLocked(prior) {
				sess.destroyUnitLocked(prior, cq)
			}
		}
		sess.names.Intern(name)
		entry := &symbolEntry{
			Name:    name,
			Flags:   sym.Flags,
			Addr:    sym.Address,
			HasAddr: true,
			State:   Ready,
		}
		ns.table.Set(entry)
		ns.addNameIndexLocked(name)
		ref := SymbolRef{Namespace: ns.name, Name: name}
		sess.satisfyLocked(ns.name, name, entry, Ready, cq)
		sess.fireTransition(cq, ref, Invalid, Ready)
		ns.promoteReadyLocked(ref, cq)
	}
	sess.mu.Unlock()
	cq.run()
	return nil
}

// Remove removes symbol entries. Any absent name fails the whole call with
// SymbolsNotFound; any name currently Materializing fails it with
// SymbolsCouldNotBeRemoved; either way nothing is removed. Otherwise
// NeverSearched names get their owning unit's Discard invoked before the
// entry is dropped, and a unit whose last promised name goes away is
// destroyed.
func (ns *Namespace) Remove(names []string) error {
	sess := ns.session
	sess.mu.Lock()
	cq := &completionQueue{}
	defer func() {
		sess.mu.Unlock()
		cq.run()
	}()

	var missing, busy []string
	for _, name := range names {
		e := ns.entryLocked(name)
		if e == nil {
			missing = append(missing, name)
			continue
		}
		if e.State == Materializing {
			busy = append(busy, name)
		}
	}
	if len(missing) > 0 {
		return newError(ErrSymbolsNotFound, missing, "symbols not found: %v", missing)
	}
	if len(busy) > 0 {
		return newError(ErrSymbolsCouldNotBeRemoved, busy, "symbols are materializing: %v", busy)
	}

	touched := map[Unit]struct{}{}
	for _, name := range names {
		e := ns.entryLocked(name)
		if e.State == NeverSearched && e.Unit != nil {
			e.Unit.Discard(ns, name)
			touched[e.Unit] = struct{}{}
		}
		ns.removeEntryLocked(name)
	}
	for unit := range touched {
		if ns.unitDoneLocked(unit) {
			sess.destroyUnitLocked(unit, cq)
		}
	}
	return nil
}

// LookupFlags returns flags for names that exist (materialized or not)
// without triggering materialization. Names missing from the table are
// passed to the generators, and whatever a generator produces is defined
// in this namespace as a Ready entry; names still missing afterward are
// omitted. A generator that returns an error is skipped and the next one
// is tried; the error is not reported to the caller.
func (ns *Namespace) LookupFlags(names []string) map[string]Flags {
	sess := ns.session
	sess.mu.Lock()
	out := make(map[string]Flags, len(names))
	var missing []string
	for _, name := range names {
		if e := ns.entryLocked(name); e != nil {
			out[name] = e.Flags.withoutBookkeeping()
		} else {
			missing = append(missing, name)
		}
	}
	generators := append([]Generator(nil), ns.generators...)
	sess.mu.Unlock()

	remaining := missing
	for _, gen := range generators {
		if len(remaining) == 0 {
			break
		}
		produced, err := gen.TryToGenerate(ns, remaining)
		if err != nil {
			continue
		}
		ns.realizeGenerated(produced)
		sess.mu.Lock()
		var next []string
		for _, name := range remaining {
			if e := ns.entryLocked(name); e != nil {
				out[name] = e.Flags.withoutBookkeeping()
			} else {
				next = append(next, name)
			}
		}
		sess.mu.Unlock()
		remaining = next
	}
	return out
}

// realizeGenerated turns a generator's produced map into real Ready
// entries, as if by DefineAbsolute, skipping any name a racing caller
// already defined in the meantime.
func (ns *Namespace) realizeGenerated(produced map[string]EvaluatedSymbol) {
	if len(produced) == 0 {
		return
	}
	sess := ns.session
	sess.mu.Lock()
	cq := &completionQueue{}
	for name, sym := range produced {
		if ns.entryLocked(name) != nil {
			continue // raced with a concurrent definition; first writer wins
		}
		sess.names.Intern(name)
		entry := &symbolEntry{Name: name, Flags: sym.Flags, Addr: sym.Address, HasAddr: true, State: Ready}
		ns.table.Set(entry)
		ns.addNameIndexLocked(name)
		ref := SymbolRef{Namespace: ns.name, Name: name}
		sess.satisfyLocked(ns.name, name, entry, Ready, cq)
		sess.fireTransition(cq, ref, Invalid, Ready)
		ns.promoteReadyLocked(ref, cq)
	}
	sess.mu.Unlock()
	cq.run()
}

// promoteReadyLocked marks ref emitted in the dependency graph and, via
// the usual notifyEmitted cascade, promotes ref itself and any other
// candidate whose closure is now satisfied to Ready — needed because an
// absolute or generator-produced definition can be the missing link that
// completes some other (still-Materializing) symbol's dependency closure,
// exactly like a unit's own NotifyEmitted would.
func (ns *Namespace) promoteReadyLocked(ref SymbolRef, cq *completionQueue) {
	sess := ns.session
	for _, r := range sess.deps.notifyEmitted(ref) {
		entry := sess.entryByRefLocked(r)
		if entry == nil {
			continue
		}
		from := entry.State
		entry.State = Ready
		sess.satisfyLocked(r.Namespace, r.Name, entry, Ready, cq)
		sess.fireTransition(cq, r, from, Ready)
	}
}

// redefineLocked hands the given pending names (previously Materializing
// under some other unit that is bailing out via Responsibility.Replace)
// back to NeverSearched ownership under a new unit, so a later lookup
// dispatches them again exactly as if they'd just been Define'd.
func (ns *Namespace) redefineLocked(unit Unit, pending map[string]struct{}, cq *completionQueue) {
	sess := ns.session
	for name := range pending {
		entry := ns.entryLocked(name)
		if entry == nil {
			continue
		}
		from := entry.State
		entry.State = NeverSearched
		entry.Unit = unit
		entry.Flags = (entry.Flags &^ flagMaterializing) | flagLazy
		sess.fireTransition(cq, SymbolRef{Namespace: ns.name, Name: name}, from, NeverSearched)
	}
}

// AddGenerator appends a generator. Generators run only on cache miss, in
// insertion order; the first to produce a name wins.
func (ns *Namespace) AddGenerator(gen Generator) {
	sess := ns.session
	sess.mu.Lock()
	defer sess.mu.Unlock()
	ns.generators = append(ns.generators, gen)
}

// dispatchBatch is one unit's worth of names transitioned to Materializing
// by a single legacyLookup call, paired with the Responsibility that now
// owns them.
type dispatchBatch struct {
	unit Unit
	resp *Responsibility
}

// legacyLookupLocked binds one namespace's share of a query's names to
// entries: names already at the required state are recorded immediately,
// the rest join the entry's waiter list, and NeverSearched names flip
// their whole owning unit to Materializing for the caller to dispatch once
// the lock is released. It is intentionally unexported — the asynchronous
// Session.LookupAsync/Lookup pair is the only public entry point.
func (ns *Namespace) legacyLookupLocked(q *Query, names []string, cq *completionQueue) (dispatch []dispatchBatch, unresolved []string) {
	dispatchedUnits := map[Unit]bool{}
	var missing []string
	for _, name := range names {
		e := ns.entryLocked(name)
		if e == nil {
			missing = append(missing, name)
			continue
		}
		if e.State == Invalid {
			// poisoned by an earlier materialization failure: this query
			// can never be satisfied
			q.fail([]string{name}, newError(ErrFailedToMaterialize, []string{name}, "failed to materialize %v in %s", []string{name}, ns.name))
			q.enqueueCompletion(cq)
			continue
		}
		if e.State.atOrPast(q.requiredState) {
			ref := SymbolRef{Namespace: ns.name, Name: name}
			if q.satisfy(ref, EvaluatedSymbol{Address: e.Addr, Flags: e.Flags.withoutBookkeeping()}) {
				q.enqueueCompletion(cq)
			}
			continue
		}
		e.waiters = append(e.waiters, &queryWait{query: q})
		if e.State == NeverSearched {
			unit := e.Unit
			if unit != nil && !dispatchedUnits[unit] {
				dispatchedUnits[unit] = true
				owned := ns.neverSearchedNamesLocked(unit)
				for n := range owned {
					oe := ns.entryLocked(n)
					oe.State = Materializing
					oe.Flags = (oe.Flags &^ flagLazy) | flagMaterializing
					ns.session.fireTransition(cq, SymbolRef{Namespace: ns.name, Name: n}, NeverSearched, Materializing)
				}
				dispatch = append(dispatch, dispatchBatch{unit: unit, resp: newResponsibility(ns, unit, owned)})
			}
		}
	}

	// still-missing names go back to the caller; LookupAsync has already
	// run the generators for them, so it fails the query with
	// SymbolsNotFound
	return dispatch, missing
}
