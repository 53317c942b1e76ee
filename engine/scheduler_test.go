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
	"testing"
)

func TestSchedulerRunsMaterializeOnAWorker(t *testing.T) {
	sess, ns := newSyncSession()
	sched := NewScheduler(2, 4)
	defer sched.Stop()
	sess.SetDispatchMaterialization(sched.Dispatch)

	unit := &scriptedUnit{
		symbols: map[string]Flags{"x": Exported},
		materialize: func(ns *Namespace, resp *Responsibility) {
			resp.NotifyResolved(map[string]EvaluatedSymbol{"x": {Address: 9, Flags: Exported}})
			resp.NotifyEmitted()
		},
	}
	if err := ns.Define(unit); err != nil {
		t.Fatal(err)
	}
	results, err := sess.Lookup([]*Namespace{ns}, []string{"x"}, Ready)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if results[SymbolRef{Namespace: "main", Name: "x"}].Address != 9 {
		t.Fatalf("unexpected result: %v", results)
	}
}

// TestSchedulerStopWaitsForRunningWorker checks that Stop returns without
// hanging after the only worker has picked up a job and been released to
// finish it.
func TestSchedulerStopWaitsForRunningWorker(t *testing.T) {
	sess, ns := newSyncSession()
	sched := NewScheduler(1, 4)
	sess.SetDispatchMaterialization(sched.Dispatch)

	var started sync.WaitGroup
	started.Add(1)
	release := make(chan struct{})
	unit := &scriptedUnit{
		symbols: map[string]Flags{"busy": Exported},
		materialize: func(ns *Namespace, resp *Responsibility) {
			started.Done()
			<-release
			resp.NotifyResolved(map[string]EvaluatedSymbol{"busy": {Flags: Exported}})
			resp.NotifyEmitted()
		},
	}
	if err := ns.Define(unit); err != nil {
		t.Fatal(err)
	}
	sess.LookupAsync([]*Namespace{ns}, []string{"busy"}, Ready, func(map[SymbolRef]EvaluatedSymbol, error) {}, nil)
	started.Wait()
	close(release)
	sched.Stop()
}

func TestScheduler_DispatchAfterStopFailsMaterialization(t *testing.T) {
	sess, ns := newSyncSession()
	sched := NewScheduler(1, 0) // unbuffered: a send can't sneak in after Stop
	sched.Stop()
	sess.SetDispatchMaterialization(sched.Dispatch)

	unit := &scriptedUnit{
		symbols:     map[string]Flags{"late": Exported},
		materialize: func(*Namespace, *Responsibility) { t.Fatal("should never run after Stop") },
	}
	if err := ns.Define(unit); err != nil {
		t.Fatal(err)
	}
	_, err := sess.Lookup([]*Namespace{ns}, []string{"late"}, Ready)
	if err == nil {
		t.Fatalf("expected lookup against a stopped scheduler to fail")
	}
}
