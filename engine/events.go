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

import "time"

// SymbolEvent describes one symbol's state transition, for anything
// observing the engine from outside (the introspect package's live event
// stream, most notably). Fired after the session lock is released, same
// as every other user-visible callback.
type SymbolEvent struct {
	Ref  SymbolRef
	From State
	To   State
	At   time.Time
}

// TransitionHook receives every SymbolEvent fired on a session. It must
// not block for long: it runs on whatever goroutine happened to cause the
// transition (never while the session lock is held, but still on a
// latency-sensitive path).
type TransitionHook func(SymbolEvent)

// SetTransitionHook installs (or, with nil, removes) the session's
// transition observer.
func (s *Session) SetTransitionHook(hook TransitionHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTransition = hook
}

// fireTransition queues a SymbolEvent onto cq if a hook is installed. Must
// be called with the session lock held; the queued closure itself runs
// after the lock is released, like everything else on cq.
func (s *Session) fireTransition(cq *completionQueue, ref SymbolRef, from, to State) {
	hook := s.onTransition
	if hook == nil {
		return
	}
	cq.add(func() {
		hook(SymbolEvent{Ref: ref, From: from, To: to, At: time.Now()})
	})
}
