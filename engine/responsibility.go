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

// Responsibility is the mutable ledger a Unit's Materialize callback uses
// to report progress. The methods below take the session lock internally,
// so a unit is free to call them from any goroutine at any time, including
// long after Materialize itself returned (e.g. after handing the pointer
// off to a compilation worker).
type Responsibility struct {
	ns    *Namespace
	unit  Unit
	owned map[string]struct{} // names still owned by this responsibility
}

func newResponsibility(ns *Namespace, unit Unit, names map[string]struct{}) *Responsibility {
	return &Responsibility{ns: ns, unit: unit, owned: names}
}

// GetRequestedSymbols returns the subset of owned names for which at least
// one pending query is currently blocked, so the unit can materialize the
// hot subset and Replace the rest.
func (r *Responsibility) GetRequestedSymbols() []string {
	sess := r.ns.session
	sess.mu.Lock()
	defer sess.mu.Unlock()
	var hot []string
	for name := range r.owned {
		entry := r.ns.entryLocked(name)
		if entry != nil && len(entry.waiters) > 0 {
			hot = append(hot, name)
		}
	}
	return hot
}

// NotifyResolved supplies addresses for some or all owned names.
func (r *Responsibility) NotifyResolved(symbols map[string]EvaluatedSymbol) {
	sess := r.ns.session
	sess.mu.Lock()
	cq := &completionQueue{}
	for name, sym := range symbols {
		if _, ok := r.owned[name]; !ok {
			sess.mu.Unlock()
			panic("NotifyResolved: " + name + " is not owned by this responsibility")
		}
		entry := r.ns.entryLocked(name)
		if entry == nil || entry.State == Invalid {
			continue // poisoned by a failed dependency while this unit was compiling
		}
		if entry.State != Materializing {
			sess.mu.Unlock()
			panic("NotifyResolved: " + name + " is not Materializing")
		}
		if sym.Flags.withoutBookkeeping() != entry.Flags.withoutBookkeeping() {
			sess.mu.Unlock()
			panic("NotifyResolved: flags for " + name + " do not match the promised flags")
		}
		entry.Addr = sym.Address
		entry.HasAddr = true
		entry.Flags = sym.Flags.withoutBookkeeping()
		entry.State = Resolved
		entry.Unit = nil
		sess.satisfyLocked(r.ns.name, name, entry, Resolved, cq)
		sess.fireTransition(cq, SymbolRef{Namespace: r.ns.name, Name: name}, Materializing, Resolved)
	}
	r.destroyIfDone(cq)
	sess.mu.Unlock()
	cq.run()
}

// NotifyEmitted advances every owned name from Resolved to Emitted, then
// lets the dependency tracker promote any name (possibly a whole cycle at
// once) whose transitive dependencies are now all emitted to Ready.
func (r *Responsibility) NotifyEmitted() {
	sess := r.ns.session
	sess.mu.Lock()
	cq := &completionQueue{}
	var readyNow []SymbolRef
	for name := range r.owned {
		entry := r.ns.entryLocked(name)
		if entry == nil || entry.State != Resolved {
			continue // already emitted/removed via a prior call, or never resolved — no-op
		}
		entry.State = Emitted
		ref := SymbolRef{Namespace: r.ns.name, Name: name}
		sess.satisfyLocked(r.ns.name, name, entry, Emitted, cq)
		sess.fireTransition(cq, ref, Resolved, Emitted)
		readyNow = append(readyNow, sess.deps.notifyEmitted(ref)...)
	}
	for _, ref := range readyNow {
		entry := sess.entryByRefLocked(ref)
		if entry == nil {
			continue
		}
		entry.State = Ready
		sess.satisfyLocked(ref.Namespace, ref.Name, entry, Ready, cq)
		sess.fireTransition(cq, ref, Emitted, Ready)
	}
	r.destroyIfDone(cq)
	sess.mu.Unlock()
	cq.run()
}

// FailMaterialization marks every owned name Invalid, removes their
// entries, fails every waiter, and cascades failure through the dependency
// graph to anything transitively blocked on these names.
func (r *Responsibility) FailMaterialization() {
	sess := r.ns.session
	sess.mu.Lock()
	cq := &completionQueue{}
	var failedNames []string
	for name := range r.owned {
		failedNames = append(failedNames, name)
	}
	err := newError(ErrFailedToMaterialize, failedNames, "failed to materialize %v in %s", failedNames, r.ns.name)
	for name := range r.owned {
		entry := r.ns.entryLocked(name)
		if entry == nil {
			continue
		}
		fromState := entry.State
		entry.State = Invalid
		sess.fireTransition(cq, SymbolRef{Namespace: r.ns.name, Name: name}, fromState, Invalid)
		for _, w := range entry.waiters {
			w.query.fail(failedNames, err)
			w.query.enqueueCompletion(cq)
		}
		entry.waiters = nil
		ref := SymbolRef{Namespace: r.ns.name, Name: name}
		for _, depRef := range sess.deps.fail(ref) {
			if depRef == ref {
				continue // handled above
			}
			depEntry := sess.entryByRefLocked(depRef)
			if depEntry == nil {
				continue
			}
			// a symbol transitively blocked on a failed one can never
			// progress; it goes Invalid and every query still waiting on
			// it fails. Waiters already satisfied left the list when they
			// fired, so the ones left here could never be satisfied.
			if depEntry.State != Invalid {
				sess.fireTransition(cq, depRef, depEntry.State, Invalid)
				depEntry.State = Invalid
			}
			for _, w := range depEntry.waiters {
				w.query.fail(failedNames, err)
				w.query.enqueueCompletion(cq)
			}
			depEntry.waiters = nil
		}
		r.ns.removeEntryLocked(name)
	}
	r.owned = nil
	r.destroyIfDone(cq)
	sess.mu.Unlock()
	cq.run()
}

func filterWaiters(in []*queryWait, keep func(*queryWait) bool) []*queryWait {
	out := in[:0]
	for _, w := range in {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}

// Replace hands ownership of the not-yet-resolved names promised by unit
// (which must be a subset of this responsibility's owned names) back to the
// namespace under that fresh unit, removing them from this responsibility —
// the "materialize the hot subset now, defer the rest" half of the
// GetRequestedSymbols workflow. Deferred names some query is already
// blocked on can't just be parked back to NeverSearched, since nothing
// would ever dispatch them again; those stay Materializing under the
// replacement unit, which is dispatched before Replace returns.
func (r *Responsibility) Replace(unit Unit) {
	sess := r.ns.session
	sess.mu.Lock()
	park := make(map[string]struct{})
	hot := make(map[string]struct{})
	for name := range unit.Symbols() {
		if _, owned := r.owned[name]; !owned {
			continue
		}
		entry := r.ns.entryLocked(name)
		if entry == nil || entry.State != Materializing {
			continue
		}
		if len(entry.waiters) > 0 {
			hot[name] = struct{}{}
		} else {
			park[name] = struct{}{}
		}
		delete(r.owned, name)
	}
	if len(park) == 0 && len(hot) == 0 {
		sess.mu.Unlock()
		return
	}
	cq := &completionQueue{}
	r.ns.redefineLocked(unit, park, cq)
	var handoff *Responsibility
	if len(hot) > 0 {
		for name := range hot {
			r.ns.entryLocked(name).Unit = unit
		}
		handoff = newResponsibility(r.ns, unit, hot)
	}
	r.destroyIfDone(cq)
	dispatchHook := sess.dispatch
	sess.mu.Unlock()
	cq.run()
	if handoff != nil {
		dispatchHook(r.ns, unit, handoff)
	}
}

// Delegate returns a new Responsibility owning the named subset, removing
// those names from this one. The two thereafter track independently.
func (r *Responsibility) Delegate(names []string) *Responsibility {
	sess := r.ns.session
	sess.mu.Lock()
	defer sess.mu.Unlock()
	delegated := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := r.owned[name]; ok {
			delegated[name] = struct{}{}
			delete(r.owned, name)
		}
	}
	return newResponsibility(r.ns, r.unit, delegated)
}

// DefineMaterializing extends ownership to new names defined mid-
// materialization. Fails if any name already exists in the namespace.
func (r *Responsibility) DefineMaterializing(additional map[string]Flags) error {
	sess := r.ns.session
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for name := range additional {
		if r.ns.entryLocked(name) != nil {
			return newError(ErrDuplicateDefinition, []string{name}, "DefineMaterializing: %s already exists in %s", name, r.ns.name)
		}
	}
	for name, flags := range additional {
		sess.names.Intern(name)
		r.ns.table.Set(&symbolEntry{
			Name:  name,
			Flags: flags | flagMaterializing,
			State: Materializing,
			Unit:  r.unit,
		})
		r.ns.addNameIndexLocked(name)
		r.owned[name] = struct{}{}
	}
	return nil
}

// AddDependenciesForAll registers, for every still-unresolved owned name,
// directed edges to the given (namespace,name) pairs. Self-edges are
// dropped. May be called repeatedly; edges accumulate as a union. A no-op
// for any name already at or past Resolved at call time, so the expected
// call order is AddDependenciesForAll first, NotifyResolved after.
func (r *Responsibility) AddDependenciesForAll(deps []SymbolRef) {
	sess := r.ns.session
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for name := range r.owned {
		entry := r.ns.entryLocked(name)
		if entry == nil || entry.State.atOrPast(Resolved) {
			continue
		}
		from := SymbolRef{Namespace: r.ns.name, Name: name}
		for _, to := range deps {
			sess.deps.addEdge(from, to)
		}
	}
}

// destroyIfDone destroys the unit once it owns zero unresolved names: every
// owned name has left Materializing (resolved, failed, or handed off) and no
// entry anywhere in the namespace still points at the unit — the latter
// covers Delegate, where two responsibilities share one unit and only the
// last one to finish may destroy it. Must be called with the session lock
// held; the Destroyed callback itself is queued on cq.
func (r *Responsibility) destroyIfDone(cq *completionQueue) {
	for name := range r.owned {
		entry := r.ns.entryLocked(name)
		if entry != nil && entry.State == Materializing {
			return
		}
	}
	if r.unit != nil && r.ns.unitDoneLocked(r.unit) {
		r.ns.session.destroyUnitLocked(r.unit, cq)
	}
}
