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
	"errors"
	"sync"
	"testing"
)

// scriptedUnit is a Unit whose Materialize just calls back into a
// caller-supplied function with its Responsibility, so tests can script
// exactly what happens during materialization without a real compiler.
type scriptedUnit struct {
	BaseUnit
	symbols     map[string]Flags
	materialize func(ns *Namespace, resp *Responsibility)
	discarded   []string
	destroyed   bool
}

func (u *scriptedUnit) Symbols() map[string]Flags { return u.symbols }
func (u *scriptedUnit) Materialize(ns *Namespace, resp *Responsibility) {
	u.materialize(ns, resp)
}
func (u *scriptedUnit) Discard(ns *Namespace, name string) { u.discarded = append(u.discarded, name) }
func (u *scriptedUnit) Destroyed()                         { u.destroyed = true }

func newSyncSession() (*Session, *Namespace) {
	sess := NewSession()
	ns, err := sess.CreateJITDylib("main")
	if err != nil {
		panic(err)
	}
	return sess, ns
}

func TestDefineAndLookupResolvesSynchronously(t *testing.T) {
	sess, ns := newSyncSession()
	unit := &scriptedUnit{
		symbols: map[string]Flags{"foo": Exported},
		materialize: func(ns *Namespace, resp *Responsibility) {
			resp.NotifyResolved(map[string]EvaluatedSymbol{"foo": {Address: 0x1000, Flags: Exported}})
			resp.NotifyEmitted()
		},
	}
	if err := ns.Define(unit); err != nil {
		t.Fatalf("Define: %v", err)
	}
	results, err := sess.Lookup([]*Namespace{ns}, []string{"foo"}, Ready)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	got, ok := results[SymbolRef{Namespace: "main", Name: "foo"}]
	if !ok {
		t.Fatalf("missing result for foo")
	}
	if got.Address != 0x1000 {
		t.Fatalf("expected address 0x1000, got %#x", got.Address)
	}
	if !unit.destroyed {
		t.Fatalf("unit should be destroyed once fully resolved")
	}
}

func TestLookupEmptyNamesCompletesImmediately(t *testing.T) {
	sess, ns := newSyncSession()
	results, err := sess.Lookup([]*Namespace{ns}, nil, Ready)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %v", results)
	}

	var gotDeps map[SymbolRef][]SymbolRef
	depsCalled := false
	done := make(chan struct{})
	sess.LookupAsync([]*Namespace{ns}, []string{}, Ready, func(map[SymbolRef]EvaluatedSymbol, error) {
		close(done)
	}, func(deps map[SymbolRef][]SymbolRef) {
		depsCalled = true
		gotDeps = deps
	})
	<-done
	if !depsCalled {
		t.Fatalf("expected onDeps to run for an empty-name query")
	}
	if len(gotDeps) != 0 {
		t.Fatalf("expected no dependencies, got %v", gotDeps)
	}
}

func TestStrongOverridesWeak(t *testing.T) {
	_, ns := newSyncSession()
	weak := &scriptedUnit{symbols: map[string]Flags{"foo": Weak}, materialize: func(*Namespace, *Responsibility) {}}
	strong := &scriptedUnit{symbols: map[string]Flags{"foo": Exported}, materialize: func(*Namespace, *Responsibility) {}}

	if err := ns.Define(weak); err != nil {
		t.Fatalf("define weak: %v", err)
	}
	if err := ns.Define(strong); err != nil {
		t.Fatalf("define strong over weak: %v", err)
	}
	if len(weak.discarded) != 1 || weak.discarded[0] != "foo" {
		t.Fatalf("expected weak unit to be discarded for foo, got %v", weak.discarded)
	}
	entry := ns.entryLocked("foo")
	if entry == nil || entry.Unit != strong {
		t.Fatalf("expected foo to now be owned by the strong unit")
	}
}

func TestDuplicateNonWeakDefinitionFails(t *testing.T) {
	_, ns := newSyncSession()
	first := &scriptedUnit{symbols: map[string]Flags{"foo": Exported}, materialize: func(*Namespace, *Responsibility) {}}
	second := &scriptedUnit{symbols: map[string]Flags{"foo": Exported}, materialize: func(*Namespace, *Responsibility) {}}
	if err := ns.Define(first); err != nil {
		t.Fatalf("define first: %v", err)
	}
	err := ns.Define(second)
	if !errors.Is(err, Kind(ErrDuplicateDefinition)) {
		t.Fatalf("expected ErrDuplicateDefinition, got %v", err)
	}
}

func TestRemoveFailsOnMissingAndMaterializing(t *testing.T) {
	_, ns := newSyncSession()
	if err := ns.Remove([]string{"nope"}); !errors.Is(err, Kind(ErrSymbolsNotFound)) {
		t.Fatalf("expected ErrSymbolsNotFound, got %v", err)
	}

	blocked := make(chan struct{})
	release := make(chan struct{})
	unit := &scriptedUnit{
		symbols: map[string]Flags{"busy": Exported},
		materialize: func(ns *Namespace, resp *Responsibility) {
			close(blocked)
			<-release
			resp.NotifyResolved(map[string]EvaluatedSymbol{"busy": {Flags: Exported}})
			resp.NotifyEmitted()
		},
	}
	if err := ns.Define(unit); err != nil {
		t.Fatalf("define: %v", err)
	}

	go func() {
		sess := ns.session
		sess.LookupAsync([]*Namespace{ns}, []string{"busy"}, Ready, func(map[SymbolRef]EvaluatedSymbol, error) {}, nil)
	}()
	<-blocked

	if err := ns.Remove([]string{"busy"}); !errors.Is(err, Kind(ErrSymbolsCouldNotBeRemoved)) {
		t.Fatalf("expected ErrSymbolsCouldNotBeRemoved while materializing, got %v", err)
	}
	close(release)
}

func TestDefineAbsoluteAndLookupFlags(t *testing.T) {
	_, ns := newSyncSession()
	if err := ns.DefineAbsolute(map[string]EvaluatedSymbol{
		"const": {Address: 42, Flags: Exported},
	}); err != nil {
		t.Fatalf("DefineAbsolute: %v", err)
	}
	flags := ns.LookupFlags([]string{"const", "missing"})
	if flags["const"] != Exported {
		t.Fatalf("expected Exported, got %s", flags["const"])
	}
	if _, ok := flags["missing"]; ok {
		t.Fatalf("missing name should be omitted, not present")
	}
}

func TestGeneratorProducesMissingSymbol(t *testing.T) {
	_, ns := newSyncSession()
	calls := 0
	ns.AddGenerator(GeneratorFunc(func(ns *Namespace, names []string) (map[string]EvaluatedSymbol, error) {
		calls++
		out := map[string]EvaluatedSymbol{}
		for _, n := range names {
			if n == "generated" {
				out[n] = EvaluatedSymbol{Address: 0xBEEF, Flags: Exported}
			}
		}
		return out, nil
	}))
	flags := ns.LookupFlags([]string{"generated"})
	if flags["generated"] != Exported {
		t.Fatalf("expected generator to produce 'generated', got %v", flags)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one generator invocation, got %d", calls)
	}
	// second lookup should hit the now-materialized entry, not the generator again
	_ = ns.LookupFlags([]string{"generated"})
	if calls != 1 {
		t.Fatalf("expected generator not to be re-invoked once defined, got %d calls", calls)
	}
}

// TestCyclicDependencyBecomesReadySimultaneously exercises the scenario
// that ruled out a naive shrinking-dependency-counter design: three
// mutually dependent symbols (a cycle A->B->C->A) must all stay below
// Ready until every member has been independently emitted, and then all
// three become Ready together.
func TestCyclicDependencyBecomesReadySimultaneously(t *testing.T) {
	sess, ns := newSyncSession()
	var resps = map[string]*Responsibility{}
	var mu sync.Mutex

	makeUnit := func(name string, dep string) *scriptedUnit {
		return &scriptedUnit{
			symbols: map[string]Flags{name: Exported},
			materialize: func(ns *Namespace, resp *Responsibility) {
				mu.Lock()
				resps[name] = resp
				mu.Unlock()
				resp.AddDependenciesForAll([]SymbolRef{{Namespace: "main", Name: dep}})
				resp.NotifyResolved(map[string]EvaluatedSymbol{name: {Flags: Exported}})
			},
		}
	}

	if err := ns.Define(makeUnit("a", "b")); err != nil {
		t.Fatal(err)
	}
	if err := ns.Define(makeUnit("b", "c")); err != nil {
		t.Fatal(err)
	}
	if err := ns.Define(makeUnit("c", "a")); err != nil {
		t.Fatal(err)
	}

	var done sync.WaitGroup
	done.Add(1)
	var result map[SymbolRef]EvaluatedSymbol
	sess.LookupAsync([]*Namespace{ns}, []string{"a", "b", "c"}, Ready, func(res map[SymbolRef]EvaluatedSymbol, err error) {
		if err != nil {
			t.Errorf("lookup failed: %v", err)
		}
		result = res
		done.Done()
	}, nil)

	// all three are Resolved but none emitted yet: nothing should be ready.
	for _, name := range []string{"a", "b", "c"} {
		e := ns.entryLocked(name)
		if e.State.atOrPast(Ready) {
			t.Fatalf("%s reached Ready before any cycle member emitted", name)
		}
	}

	resps["a"].NotifyEmitted()
	resps["b"].NotifyEmitted()
	for _, name := range []string{"a", "b", "c"} {
		e := ns.entryLocked(name)
		if e.State.atOrPast(Ready) {
			t.Fatalf("%s reached Ready before every cycle member emitted", name)
		}
	}

	resps["c"].NotifyEmitted() // completes the cycle: all three should fire at once
	done.Wait()
	if len(result) != 3 {
		t.Fatalf("expected all 3 cycle members resolved, got %d", len(result))
	}
	for _, name := range []string{"a", "b", "c"} {
		if ns.entryLocked(name).State != Ready {
			t.Fatalf("%s did not reach Ready after the cycle closed", name)
		}
	}
}

func TestFailMaterializationFailsWaitersAndDependants(t *testing.T) {
	sess, ns := newSyncSession()
	var failingResp *Responsibility
	failing := &scriptedUnit{
		symbols: map[string]Flags{"broken": Exported},
		materialize: func(ns *Namespace, resp *Responsibility) {
			failingResp = resp
			// don't resolve yet — the test fails it explicitly below
		},
	}
	dependent := &scriptedUnit{
		symbols: map[string]Flags{"depends": Exported},
		materialize: func(ns *Namespace, resp *Responsibility) {
			resp.AddDependenciesForAll([]SymbolRef{{Namespace: "main", Name: "broken"}})
			resp.NotifyResolved(map[string]EvaluatedSymbol{"depends": {Flags: Exported}})
			resp.NotifyEmitted()
		},
	}
	if err := ns.Define(failing); err != nil {
		t.Fatal(err)
	}
	if err := ns.Define(dependent); err != nil {
		t.Fatal(err)
	}

	var brokenErr, dependsErr error
	var wg sync.WaitGroup
	wg.Add(2)
	sess.LookupAsync([]*Namespace{ns}, []string{"broken"}, Ready, func(_ map[SymbolRef]EvaluatedSymbol, err error) {
		brokenErr = err
		wg.Done()
	}, nil)
	sess.LookupAsync([]*Namespace{ns}, []string{"depends"}, Ready, func(_ map[SymbolRef]EvaluatedSymbol, err error) {
		dependsErr = err
		wg.Done()
	}, nil)

	failingResp.FailMaterialization()
	wg.Wait()

	if !errors.Is(brokenErr, Kind(ErrFailedToMaterialize)) {
		t.Fatalf("expected broken's query to fail with ErrFailedToMaterialize, got %v", brokenErr)
	}
	if !errors.Is(dependsErr, Kind(ErrFailedToMaterialize)) {
		t.Fatalf("expected depends's query (blocked on broken) to fail too, got %v", dependsErr)
	}
}

func TestInternPointerEquality(t *testing.T) {
	pool := NewNamePool()
	a := pool.Intern("hello")
	b := pool.Intern("hello")
	if a != b {
		t.Fatalf("expected pointer-equal interned names for the same string")
	}
}

func TestDefineInternsNamesInTheSessionPool(t *testing.T) {
	sess, ns := newSyncSession()
	if err := ns.DefineAbsolute(map[string]EvaluatedSymbol{"pooled": {Address: 0x1, Flags: Exported}}); err != nil {
		t.Fatal(err)
	}
	if sess.names.Len() != 1 {
		t.Fatalf("expected the defined name to be interned, pool has %d entries", sess.names.Len())
	}
	if got := sess.Intern("pooled"); got.String() != "pooled" {
		t.Fatalf("unexpected interned name %q", got.String())
	}
}

func TestInternConcurrentFirstInsertsStayPointerEqual(t *testing.T) {
	pool := NewNamePool()
	const n = 64
	results := make([]*InternedName, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = pool.Intern("concurrent-name")
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("concurrent first-interns produced distinct pointers for the same name")
		}
	}
	if pool.Len() != 1 {
		t.Fatalf("expected exactly 1 interned name, got %d", pool.Len())
	}
}
