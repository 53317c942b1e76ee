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

// SymbolRef qualifies a symbol name by the namespace it lives in. Dependency
// edges and query targets are always expressed as SymbolRefs since
// dependencies can span namespaces.
type SymbolRef struct {
	Namespace string
	Name      string
}

func (r SymbolRef) String() string { return r.Namespace + "::" + r.Name }

// symbolEntry is the per-(namespace,name) table row. All mutation of its
// fields happens with the owning Session's lock held; the entry's address
// in memory is stable for its lifetime; it is never replaced in the
// namespace's table in place, only inserted once (define) and removed once
// (remove).
type symbolEntry struct {
	Name    string
	Flags   Flags
	Addr    Address
	HasAddr bool
	State   State
	Unit    Unit // owning unit while NeverSearched or Materializing; nil after

	// waiters are queries blocked on this entry reaching some required
	// state. A satisfied waiter is removed from the slice.
	waiters []*queryWait
}

func (e symbolEntry) GetKey() string { return e.Name }

func (e symbolEntry) ComputeSize() uint {
	return 64 + uint(len(e.Name)) + 8*uint(len(e.waiters))
}

// queryWait records that q is blocked on a particular entry reaching
// q.requiredState.
type queryWait struct {
	query *Query
}
