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

import "sync"

import "github.com/launix-de/NonLockingReadMap"

// InternedName is the value stored in the name pool. Two names are equal
// iff the *InternedName pointers returned by the pool are equal, so an
// interned name works as a cheap map key or identity token where the
// string itself would hash its whole length.
type InternedName struct {
	s string
}

func (n *InternedName) String() string { return n.s }

func (n InternedName) GetKey() string { return n.s }

func (n InternedName) ComputeSize() uint {
	return 16 + uint(len(n.s))
}

// NamePool interns symbol names to canonical pointers, so that name
// equality collapses to pointer equality and hashing is trivial. Reads
// never block; inserts of new names are serialized by a mutex and
// published through the backing NonLockingReadMap.
type NamePool struct {
	table  NonLockingReadMap.NonLockingReadMap[InternedName, string]
	insert sync.Mutex // serializes the insert-new-name slow path only
}

// NewNamePool returns a ready-to-use, empty pool.
func NewNamePool() *NamePool {
	p := &NamePool{table: NonLockingReadMap.New[InternedName, string]()}
	return p
}

// Intern returns the canonical pointer for s. Equal strings always map to
// the same pointer for the pool's lifetime: reads race freely against the
// lock-free table, but a genuinely new name is inserted under insert so two
// concurrent first-interns of the same string can never mint two different
// canonical pointers for it.
func (p *NamePool) Intern(s string) *InternedName {
	if existing := p.table.Get(s); existing != nil {
		return existing
	}
	p.insert.Lock()
	defer p.insert.Unlock()
	if existing := p.table.Get(s); existing != nil {
		return existing
	}
	fresh := &InternedName{s: s}
	p.table.Set(fresh)
	return fresh
}

// Len reports how many distinct names are currently interned.
func (p *NamePool) Len() int {
	return len(p.table.GetAll())
}
