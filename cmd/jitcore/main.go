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

// jitcore is an interactive shell over a single engine.Session, for
// poking at namespaces and symbols by hand: define, look up, drive a
// pending unit's responsibility step by step, watch transitions live.
package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"

	"github.com/launix-de/jitcore/engine"
	"github.com/launix-de/jitcore/filegen"
	"github.com/launix-de/jitcore/introspect"
)

const prompt = "\033[32mjitcore>\033[0m "
const resultPrompt = "\033[31m=\033[0m "

// pendingUnit is a toy materialization unit for the REPL's unit/resolve/
// emit/fail commands: Materialize just stashes the Responsibility it was
// handed and returns, leaving it open for a later command to drive by
// hand, the way a real Unit might stash it and resolve it from a
// compilation goroutine that finishes long after Materialize returned.
type pendingUnit struct {
	engine.BaseUnit
	label   string
	symbols map[string]engine.Flags

	mu   sync.Mutex
	resp *engine.Responsibility
}

func (u *pendingUnit) Symbols() map[string]engine.Flags { return u.symbols }

func (u *pendingUnit) Materialize(ns *engine.Namespace, resp *engine.Responsibility) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.resp = resp
}

func (u *pendingUnit) responsibility() (*engine.Responsibility, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.resp == nil {
		return nil, fmt.Errorf("unit %q has not been looked up yet, so it isn't materializing", u.label)
	}
	return u.resp, nil
}

func main() {
	sess := engine.NewSession()
	namespaces := map[string]*engine.Namespace{}
	units := map[string]*pendingUnit{}
	var watchers []*filegen.Generator
	onexit.Register(func() {
		for _, w := range watchers {
			w.Close()
		}
	})

	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       ".jitcore-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Println("jitcore — type 'help' for commands")
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Println("error:", r)
				}
			}()
			run(sess, namespaces, units, &watchers, line)
		}()
	}
}

func run(sess *engine.Session, namespaces map[string]*engine.Namespace, units map[string]*pendingUnit, watchers *[]*filegen.Generator, line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		fmt.Println(`commands:
  ns <name>                          create a namespace
  define <ns> <name> <0xaddr> [flag,...]   absolute-define a symbol
  lookup <ns> <name...>               blocking lookup to Ready
  flags <ns> <name...>                read flags without materializing
  remove <ns> <name...>               remove symbol entries
  names <ns>                           list all defined symbol names
  generator <ns> <path>               attach a .symdef file generator
  serve <addr>                        start the introspection websocket server
  unit <ns> <label> <name...>         register a pending unit promising name...
  resolve <label> <name> <0xaddr>      resolve one name of a pending unit
  emit <label>                        mark a pending unit's resolved names emitted
  fail <label>                        fail a pending unit's materialization
  watch <ns> [name...]                 print transition events, optionally filtered
  exit                                quit`)

	case "ns":
		requireArgs(args, 1, "ns <name>")
		ns, err := sess.CreateJITDylib(args[0])
		must(err)
		namespaces[args[0]] = ns
		fmt.Println(resultPrompt, "created", args[0])

	case "define":
		requireArgs(args, 3, "define <ns> <name> <0xaddr> [flags]")
		ns := namespace(namespaces, args[0])
		addr, err := strconv.ParseUint(strings.TrimPrefix(args[2], "0x"), 16, 64)
		must(err)
		var flags engine.Flags
		if len(args) > 3 {
			for _, f := range strings.Split(args[3], ",") {
				switch f {
				case "weak":
					flags |= engine.Weak
				case "exported":
					flags |= engine.Exported
				case "callable":
					flags |= engine.Callable
				}
			}
		}
		must(ns.DefineAbsolute(map[string]engine.EvaluatedSymbol{
			args[1]: {Address: engine.Address(addr), Flags: flags},
		}))
		fmt.Println(resultPrompt, "defined", args[1])

	case "lookup":
		requireArgs(args, 2, "lookup <ns> <name...>")
		ns := namespace(namespaces, args[0])
		results, err := sess.Lookup([]*engine.Namespace{ns}, args[1:], engine.Ready)
		must(err)
		for ref, sym := range results {
			fmt.Printf("%s %s = %s\n", resultPrompt, ref, sym)
		}

	case "flags":
		requireArgs(args, 2, "flags <ns> <name...>")
		ns := namespace(namespaces, args[0])
		for name, f := range ns.LookupFlags(args[1:]) {
			fmt.Printf("%s %s: %s\n", resultPrompt, name, f)
		}

	case "remove":
		requireArgs(args, 2, "remove <ns> <name...>")
		ns := namespace(namespaces, args[0])
		must(ns.Remove(args[1:]))
		fmt.Println(resultPrompt, "removed")

	case "names":
		requireArgs(args, 1, "names <ns>")
		ns := namespace(namespaces, args[0])
		for _, name := range ns.Names() {
			fmt.Println(resultPrompt, name)
		}

	case "generator":
		requireArgs(args, 2, "generator <ns> <path>")
		ns := namespace(namespaces, args[0])
		gen, err := filegen.New(args[1])
		must(err)
		ns.AddGenerator(gen)
		*watchers = append(*watchers, gen)
		fmt.Println(resultPrompt, "watching", args[1])

	case "serve":
		requireArgs(args, 1, "serve <addr>")
		srv := introspect.New(sess)
		go func() {
			if err := srv.ListenAndServe(args[0], "/events"); err != nil {
				fmt.Println("introspection server stopped:", err)
			}
		}()
		fmt.Println(resultPrompt, "serving on", args[0])

	case "unit":
		requireArgs(args, 3, "unit <ns> <label> <name...>")
		ns := namespace(namespaces, args[0])
		label := args[1]
		names := args[2:]
		symbols := make(map[string]engine.Flags, len(names))
		for _, n := range names {
			symbols[n] = engine.Exported
		}
		u := &pendingUnit{label: label, symbols: symbols}
		must(ns.Define(u))
		units[label] = u
		// a bare Define leaves the unit NeverSearched; an async lookup
		// against its own names is what actually dispatches Materialize.
		sess.LookupAsync([]*engine.Namespace{ns}, names, engine.Ready, nil, nil)
		fmt.Println(resultPrompt, "pending unit", label, "materializing", strings.Join(names, ", "))

	case "resolve":
		requireArgs(args, 3, "resolve <label> <name> <0xaddr>")
		u := pendingUnitFor(units, args[0])
		resp, err := u.responsibility()
		must(err)
		addr, err := strconv.ParseUint(strings.TrimPrefix(args[2], "0x"), 16, 64)
		must(err)
		resp.NotifyResolved(map[string]engine.EvaluatedSymbol{
			args[1]: {Address: engine.Address(addr), Flags: u.symbols[args[1]]},
		})
		fmt.Println(resultPrompt, "resolved", args[1])

	case "emit":
		requireArgs(args, 1, "emit <label>")
		u := pendingUnitFor(units, args[0])
		resp, err := u.responsibility()
		must(err)
		resp.NotifyEmitted()
		fmt.Println(resultPrompt, "emitted", args[0])

	case "fail":
		requireArgs(args, 1, "fail <label>")
		u := pendingUnitFor(units, args[0])
		resp, err := u.responsibility()
		must(err)
		resp.FailMaterialization()
		fmt.Println(resultPrompt, "failed", args[0])

	case "watch":
		requireArgs(args, 1, "watch <ns> [name...]")
		nsName := args[0]
		wanted := args[1:]
		sess.SetTransitionHook(func(ev engine.SymbolEvent) {
			if ev.Ref.Namespace != nsName {
				return
			}
			if len(wanted) > 0 && !containsString(wanted, ev.Ref.Name) {
				return
			}
			fmt.Printf("%s %s: %s -> %s\n", resultPrompt, ev.Ref, ev.From, ev.To)
		})
		fmt.Println(resultPrompt, "watching transitions in", nsName)

	default:
		fmt.Println("unknown command:", cmd, "(try 'help')")
	}
}

func namespace(namespaces map[string]*engine.Namespace, name string) *engine.Namespace {
	ns, ok := namespaces[name]
	if !ok {
		panic("no such namespace: " + name)
	}
	return ns
}

func pendingUnitFor(units map[string]*pendingUnit, label string) *pendingUnit {
	u, ok := units[label]
	if !ok {
		panic("no such pending unit: " + label)
	}
	return u
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		panic("usage: " + usage)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
