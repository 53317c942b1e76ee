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

import "github.com/jtolds/gls"

// reentryMgr tracks, per goroutine, whether a blocking Lookup is already
// in progress. A dispatch hook that runs Materialize synchronously on the
// calling goroutine (the default one) can otherwise deadlock a blocking
// Lookup against itself if a unit's materialization blocks-looks-up one
// of its own requested names; detecting that and failing fast with
// ErrReentrantBlockingLookup beats hanging forever.
var reentryMgr = gls.NewContextManager()

const reentryKey = "blockingLookup"

func reentered() bool {
	v, ok := reentryMgr.GetValue(reentryKey)
	return ok && v == true
}

// markReentrant runs fn with the current goroutine flagged as "inside a
// blocking lookup", propagated to anything fn starts via gls.Go.
func markReentrant(fn func()) {
	reentryMgr.SetValues(gls.Values{reentryKey: true}, fn)
}
