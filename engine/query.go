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

// OnComplete is invoked exactly once, never while the session lock is
// held, with the resolved symbols on success or a non-nil err on failure.
// On failure the map is nil: partial results are never delivered.
type OnComplete func(result map[SymbolRef]EvaluatedSymbol, err error)

// OnDependencies is invoked at most once, after resolution completes
// (successfully or not), with the final dependency map accumulated across
// every responsibility that touched this query's symbols. Nil if the
// caller didn't ask for it.
type OnDependencies func(deps map[SymbolRef][]SymbolRef)

// Query is a pending request for a set of symbols to reach RequiredState.
// All field access happens with the owning Session's lock held; it has no
// lock of its own.
type Query struct {
	id            uint64
	targets       []SymbolRef
	requiredState State
	outstanding   int
	results       map[SymbolRef]EvaluatedSymbol
	deps          map[SymbolRef][]SymbolRef
	onComplete    OnComplete
	onDeps        OnDependencies
	fired         bool // completion fires exactly once
	failedNames   []string
	failErr       error
}

func newQuery(id uint64, targets []SymbolRef, required State, onComplete OnComplete, onDeps OnDependencies) *Query {
	return &Query{
		id:            id,
		targets:       targets,
		requiredState: required,
		outstanding:   len(targets),
		results:       make(map[SymbolRef]EvaluatedSymbol, len(targets)),
		deps:          make(map[SymbolRef][]SymbolRef),
		onComplete:    onComplete,
		onDeps:        onDeps,
	}
}

// satisfy accounts for one of this query's targets reaching its required
// state. Returns true if the query is now complete (outstanding reached
// zero) and should be queued for firing.
func (q *Query) satisfy(ref SymbolRef, sym EvaluatedSymbol) bool {
	if _, already := q.results[ref]; already {
		return false
	}
	q.results[ref] = sym
	q.outstanding--
	return q.outstanding == 0
}

// fail marks the query permanently failed. Safe to call multiple times;
// only the first failure is recorded, matching "a query's completion
// fires exactly once".
func (q *Query) fail(names []string, err error) {
	if q.fired || q.failErr != nil {
		return
	}
	q.failedNames = append([]string(nil), names...)
	q.failErr = err
}

// completionQueue accumulates callbacks collected while the session lock is
// held, to be run after it's released — never invoke user code under lock.
type completionQueue struct {
	fns []func()
}

func (c *completionQueue) add(fn func()) {
	c.fns = append(c.fns, fn)
}

func (c *completionQueue) run() {
	for _, fn := range c.fns {
		fn()
	}
}

// enqueueCompletion queues q's terminal callback (success or failure,
// whichever applies) exactly once.
func (q *Query) enqueueCompletion(cq *completionQueue) {
	if q.fired {
		return
	}
	q.fired = true
	failed := q.failErr
	results := q.results
	deps := q.deps
	onComplete := q.onComplete
	onDeps := q.onDeps
	cq.add(func() {
		if onComplete != nil {
			if failed != nil {
				onComplete(nil, failed)
			} else {
				onComplete(results, nil)
			}
		}
		if onDeps != nil {
			onDeps(deps)
		}
	})
}
