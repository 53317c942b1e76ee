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
	"sync"

	"github.com/google/uuid"
)

// DispatchHook is handed a unit and the Responsibility covering the names
// it must materialize. The default, set by NewSession, runs Materialize
// synchronously on the calling goroutine; SetDispatchMaterialization
// replaces it, typically with something that hands the pair off to a
// worker pool (see Scheduler.Dispatch).
type DispatchHook func(ns *Namespace, unit Unit, resp *Responsibility)

// Session is the top-level coordinator: it owns every namespace, the
// cross-namespace dependency graph, and the single mutex guarding all of
// it. No method here ever calls user code while s.mu is held: work
// destined for user callbacks is queued on a completionQueue and run
// after unlocking, and dispatch itself happens after unlocking too.
type Session struct {
	id           uuid.UUID
	mu           sync.Mutex
	namespaces   map[string]*Namespace
	deps         *depGraph
	names        *NamePool
	dispatch     DispatchHook
	nextQuery    uint64
	retired      map[Unit]struct{} // units whose Destroyed has fired
	onTransition TransitionHook
}

// NewSession returns a ready-to-use session with a synchronous default
// dispatch hook. Each session gets a random uuid rather than a sequential
// counter, so sessions created by independent processes never collide in
// merged logs or on the introspection stream.
func NewSession() *Session {
	s := &Session{
		id:         uuid.New(),
		namespaces: make(map[string]*Namespace),
		deps:       newDepGraph(),
		names:      NewNamePool(),
		retired:    make(map[Unit]struct{}),
	}
	s.dispatch = func(ns *Namespace, unit Unit, resp *Responsibility) {
		unit.Materialize(ns, resp)
	}
	return s
}

// ID returns the session's unique identifier, stable for its lifetime.
func (s *Session) ID() uuid.UUID { return s.id }

// Intern returns the canonical pointer for a symbol name. Every name that
// enters the session through Define/DefineAbsolute/DefineMaterializing or
// a lookup is interned here, so callers comparing many names can hold the
// pointer instead of the string. The pool has its own synchronization;
// Intern never takes the session lock.
func (s *Session) Intern(name string) *InternedName {
	return s.names.Intern(name)
}

// SetDispatchMaterialization replaces the dispatch hook.
func (s *Session) SetDispatchMaterialization(hook DispatchHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatch = hook
}

// CreateJITDylib creates and registers a new, empty namespace. Fails if
// the name is already taken.
func (s *Session) CreateJITDylib(name string) (*Namespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[name]; ok {
		return nil, newError(ErrDuplicateDefinition, []string{name}, "namespace %q already exists", name)
	}
	ns := newNamespace(s, name)
	s.namespaces[name] = ns
	return ns, nil
}

// Namespace returns the namespace registered under name, or nil.
func (s *Session) Namespace(name string) *Namespace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.namespaces[name]
}

// destroyUnitLocked fires unit's Destroyed notifier exactly once, no matter
// how many responsibilities (after Delegate) or removal paths race to
// retire it. With a non-nil cq the callback is queued to run after the
// lock is released; with a nil cq it runs inline.
func (s *Session) destroyUnitLocked(unit Unit, cq *completionQueue) {
	if unit == nil {
		return
	}
	if _, done := s.retired[unit]; done {
		return
	}
	s.retired[unit] = struct{}{}
	if cq != nil {
		cq.add(unit.Destroyed)
	} else {
		unit.Destroyed()
	}
}

func (s *Session) entryByRefLocked(ref SymbolRef) *symbolEntry {
	ns, ok := s.namespaces[ref.Namespace]
	if !ok {
		return nil
	}
	return ns.entryLocked(ref.Name)
}

// collectDepsLocked populates q.deps with the direct dependency edges
// recorded against q's targets at the moment it completes, for delivery
// via its OnDependencies callback.
func (s *Session) collectDepsLocked(q *Query) {
	if q.onDeps == nil {
		return
	}
	for _, ref := range q.targets {
		node, ok := s.deps.nodes[ref]
		if !ok {
			continue
		}
		for dep := range node.dependsOn {
			q.deps[ref] = append(q.deps[ref], dep)
		}
	}
}

// satisfyLocked wakes every waiter on entry whose required state has now
// been reached, queuing completions on cq rather than firing them inline.
func (s *Session) satisfyLocked(nsName, name string, entry *symbolEntry, newState State, cq *completionQueue) {
	ref := SymbolRef{Namespace: nsName, Name: name}
	sym := EvaluatedSymbol{Address: entry.Addr, Flags: entry.Flags.withoutBookkeeping()}
	remaining := entry.waiters[:0]
	for _, w := range entry.waiters {
		q := w.query
		if !newState.atOrPast(q.requiredState) {
			remaining = append(remaining, w)
			continue
		}
		if q.satisfy(ref, sym) {
			s.collectDepsLocked(q)
			q.enqueueCompletion(cq)
		}
	}
	entry.waiters = remaining
}

// searchPlan is the outcome of resolving a requested name against a
// namespace search order: which namespace (if any) currently owns it.
type searchPlan struct {
	ref   SymbolRef
	found bool
}

// planSearchLocked walks searchOrder once per name, recording the first
// namespace (in order) that already has an entry for it. Names absent
// from every namespace come back unfound, ready for generator fallback.
func planSearchLocked(searchOrder []*Namespace, names []string) map[string]searchPlan {
	out := make(map[string]searchPlan, len(names))
	for _, name := range names {
		plan := searchPlan{}
		for _, ns := range searchOrder {
			if ns.entryLocked(name) != nil {
				plan = searchPlan{ref: SymbolRef{Namespace: ns.name, Name: name}, found: true}
				break
			}
		}
		out[name] = plan
	}
	return out
}

// LookupAsync resolves names against searchOrder (tried in order, like a
// linker search path), invoking generators on names no namespace in the
// path currently defines, then creates and registers a Query once every
// name is assigned to a namespace or permanently missing. onComplete runs
// exactly once; a name missing from every namespace after generators have
// had their chance fails the whole query with SymbolsNotFound.
func (s *Session) LookupAsync(searchOrder []*Namespace, names []string, required State, onComplete OnComplete, onDeps OnDependencies) {
	if len(names) == 0 {
		if onComplete != nil {
			onComplete(map[SymbolRef]EvaluatedSymbol{}, nil)
		}
		if onDeps != nil {
			onDeps(map[SymbolRef][]SymbolRef{})
		}
		return
	}

	// a duplicated name must only count once against the query's
	// outstanding counter, or it could never reach zero
	seen := make(map[string]struct{}, len(names))
	deduped := names[:0:0]
	for _, name := range names {
		s.names.Intern(name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		deduped = append(deduped, name)
	}
	names = deduped

	s.mu.Lock()
	plans := planSearchLocked(searchOrder, names)
	var missing []string
	for _, name := range names {
		if !plans[name].found {
			missing = append(missing, name)
		}
	}
	s.mu.Unlock()

	for _, ns := range searchOrder {
		if len(missing) == 0 {
			break
		}
		ns.LookupFlags(missing) // drives any registered generators as a side effect
		s.mu.Lock()
		var still []string
		for _, name := range missing {
			if e := ns.entryLocked(name); e != nil {
				plans[name] = searchPlan{ref: SymbolRef{Namespace: ns.name, Name: name}, found: true}
			} else {
				still = append(still, name)
			}
		}
		s.mu.Unlock()
		missing = still
	}

	if len(missing) > 0 {
		if onComplete != nil {
			onComplete(nil, newError(ErrSymbolsNotFound, missing, "symbols not found: %v", missing))
		}
		if onDeps != nil {
			onDeps(nil)
		}
		return
	}

	s.mu.Lock()
	s.nextQuery++
	targets := make([]SymbolRef, 0, len(names))
	byNamespace := map[string][]string{}
	for _, name := range names {
		ref := plans[name].ref
		targets = append(targets, ref)
		byNamespace[ref.Namespace] = append(byNamespace[ref.Namespace], name)
	}
	q := newQuery(s.nextQuery, targets, required, onComplete, onDeps)
	cq := &completionQueue{}
	var toDispatch []dispatchBatch
	for _, ns := range searchOrder {
		subset := byNamespace[ns.name]
		if len(subset) == 0 {
			continue
		}
		dispatch, unresolved := ns.legacyLookupLocked(q, subset, cq)
		toDispatch = append(toDispatch, dispatch...)
		if len(unresolved) > 0 {
			// planned above, gone now: a concurrent Remove won the race
			q.fail(unresolved, newError(ErrSymbolsNotFound, unresolved, "symbols not found: %v", unresolved))
			q.enqueueCompletion(cq)
		}
	}
	dispatchHook := s.dispatch
	s.mu.Unlock()

	cq.run()
	for _, d := range toDispatch {
		dispatchHook(d.resp.ns, d.unit, d.resp)
	}
}

// Lookup is the blocking form of LookupAsync. It refuses to block a
// goroutine already inside a blocking Lookup on any session (see
// context.go), returning ErrReentrantBlockingLookup instead of deadlocking
// against a dispatch hook that runs materialization inline on the same
// goroutine.
func (s *Session) Lookup(searchOrder []*Namespace, names []string, required State) (map[SymbolRef]EvaluatedSymbol, error) {
	if reentered() {
		return nil, newError(ErrReentrantBlockingLookup, names, "blocking lookup called while already inside one on this goroutine")
	}
	done := make(chan struct{})
	var result map[SymbolRef]EvaluatedSymbol
	var failErr error
	markReentrant(func() {
		s.LookupAsync(searchOrder, names, required, func(res map[SymbolRef]EvaluatedSymbol, err error) {
			result, failErr = res, err
			close(done)
		}, nil)
		<-done
	})
	return result, failErr
}
