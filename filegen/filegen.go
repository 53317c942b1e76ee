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

// Package filegen implements an engine.Generator that serves symbols out
// of a ".symdef" text file, one definition per line:
//
//	name = 0xaddress [flag,flag,...]
//
// flags are any of weak, exported, callable. The file is watched with
// fsnotify so edits take effect without restarting the process.
package filegen

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	packrat "github.com/launix-de/go-packrat/v2"

	"github.com/launix-de/jitcore/engine"
)

var identParser = packrat.NewRegexParser[any](func(s string) any { return s }, `[A-Za-z_][A-Za-z0-9_]*`, false, true)
var hexParser = packrat.NewRegexParser[any](func(s string) any { return s }, `0x[0-9A-Fa-f]+`, false, true)
var flagParser = packrat.NewOrParser[any](
	packrat.NewAtomParser[any]("weak", "weak", false, true),
	packrat.NewAtomParser[any]("exported", "exported", false, true),
	packrat.NewAtomParser[any]("callable", "callable", false, true),
)
var flagListParser = packrat.NewMaybeParser[any](nil, packrat.NewAndParser[any](
	func(s string, a ...any) any { return a[1] },
	packrat.NewAtomParser[any](nil, "[", false, true),
	packrat.NewKleeneParser[any](func(s string, a ...any) any { return a }, flagParser, packrat.NewAtomParser[any](nil, ",", false, true)),
	packrat.NewAtomParser[any](nil, "]", false, true),
))
var lineParser = packrat.NewAndParser[any](
	func(s string, a ...any) any { return []any{a[0], a[2], a[3]} },
	identParser,
	packrat.NewAtomParser[any](nil, "=", false, true),
	hexParser,
	flagListParser,
	packrat.NewEndParser[any](nil, true),
)

// parseLine parses one non-blank, non-comment line of a .symdef file.
func parseLine(line string) (name string, sym engine.EvaluatedSymbol, err error) {
	scanner := packrat.NewScanner[any](line, packrat.SkipWhitespaceAndCommentsRegex)
	node, perr := packrat.Parse(lineParser, scanner)
	if perr != nil {
		return "", engine.EvaluatedSymbol{}, fmt.Errorf("filegen: %w", perr)
	}
	result := node.Payload.([]any)
	name = result[0].(string)
	hexStr := result[1].(string)
	var addr uint64
	if _, err := fmt.Sscanf(hexStr, "0x%x", &addr); err != nil {
		return "", engine.EvaluatedSymbol{}, fmt.Errorf("filegen: bad address %q: %w", hexStr, err)
	}
	var flags engine.Flags
	if result[2] != nil {
		for _, f := range result[2].([]any) {
			switch f.(string) {
			case "weak":
				flags |= engine.Weak
			case "exported":
				flags |= engine.Exported
			case "callable":
				flags |= engine.Callable
			}
		}
	}
	return name, engine.EvaluatedSymbol{Address: engine.Address(addr), Flags: flags}, nil
}

// Generator watches a .symdef file and serves its definitions on demand,
// implementing engine.Generator so it can be registered with
// Namespace.AddGenerator.
type Generator struct {
	path string

	mu      sync.RWMutex
	symbols map[string]engine.EvaluatedSymbol

	stop chan struct{}
	done chan struct{}
}

// New creates a Generator watching path, performing an initial synchronous
// read before returning so the first TryToGenerate never races the
// watcher's first reload.
func New(path string) (*Generator, error) {
	g := &Generator{path: path, stop: make(chan struct{}), done: make(chan struct{})}
	if err := g.reload(); err != nil {
		return nil, err
	}
	if err := g.watch(); err != nil {
		return nil, err
	}
	return g, nil
}

// Close stops the background watcher.
func (g *Generator) Close() {
	close(g.stop)
	<-g.done
}

func (g *Generator) reload() error {
	f, err := os.Open(g.path)
	if err != nil {
		return err
	}
	defer f.Close()

	symbols := make(map[string]engine.EvaluatedSymbol)
	scan := bufio.NewScanner(f)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		trimmed := strings.TrimSpace(scan.Text())
		if trimmed == "" || trimmed[0] == '#' {
			continue
		}
		name, sym, err := parseLine(trimmed)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", g.path, lineNo, err)
		}
		symbols[name] = sym
	}
	if err := scan.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	g.symbols = symbols
	g.mu.Unlock()
	return nil
}

// watch flushes a burst of fsnotify events with a short delay before
// re-reading, and re-adds the watch afterward since editors often
// rename-and-replace on save.
func (g *Generator) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(g.path); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer close(g.done)
		defer watcher.Close()
		for {
			select {
			case <-g.stop:
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
			drain:
				for {
					time.Sleep(10 * time.Millisecond)
					select {
					case <-watcher.Events:
					default:
						break drain
					}
				}
				_ = g.reload() // a bad edit just keeps the previous generation
				watcher.Add(g.path)
			case <-watcher.Errors:
				// best effort: keep watching on the existing descriptor
			}
		}
	}()
	return nil
}

// TryToGenerate implements engine.Generator.
func (g *Generator) TryToGenerate(ns *engine.Namespace, names []string) (map[string]engine.EvaluatedSymbol, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	produced := make(map[string]engine.EvaluatedSymbol)
	for _, name := range names {
		if sym, ok := g.symbols[name]; ok {
			produced[name] = sym
		}
	}
	return produced, nil
}
