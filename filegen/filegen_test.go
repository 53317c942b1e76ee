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
package filegen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/launix-de/jitcore/engine"
)

func TestParseLineBareAddress(t *testing.T) {
	name, sym, err := parseLine("main = 0x1000")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if name != "main" {
		t.Fatalf("expected name 'main', got %q", name)
	}
	if sym.Address != 0x1000 {
		t.Fatalf("expected address 0x1000, got %#x", sym.Address)
	}
	if sym.Flags != 0 {
		t.Fatalf("expected no flags, got %s", sym.Flags)
	}
}

func TestParseLineWithFlags(t *testing.T) {
	name, sym, err := parseLine("helper = 0xCAFE [weak, callable]")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if name != "helper" {
		t.Fatalf("expected name 'helper', got %q", name)
	}
	if !sym.Flags.Has(engine.Weak) || !sym.Flags.Has(engine.Callable) {
		t.Fatalf("expected weak|callable, got %s", sym.Flags)
	}
}

func TestParseLineRejectsGarbage(t *testing.T) {
	if _, _, err := parseLine("not a valid symdef line"); err == nil {
		t.Fatalf("expected an error for a malformed line")
	}
}

func TestGeneratorServesDefinedSymbols(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intrinsics.symdef")
	if err := os.WriteFile(path, []byte("entry = 0x2000 [exported]\n# a comment\nhidden = 0x3000\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	gen, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer gen.Close()

	produced, err := gen.TryToGenerate(nil, []string{"entry", "hidden", "missing"})
	if err != nil {
		t.Fatalf("TryToGenerate: %v", err)
	}
	if produced["entry"].Address != 0x2000 {
		t.Fatalf("expected entry at 0x2000, got %v", produced["entry"])
	}
	if !produced["entry"].Flags.Has(engine.Exported) {
		t.Fatalf("expected entry to be exported, got %s", produced["entry"].Flags)
	}
	if produced["hidden"].Address != 0x3000 {
		t.Fatalf("expected hidden at 0x3000, got %v", produced["hidden"])
	}
	if _, ok := produced["missing"]; ok {
		t.Fatalf("did not expect 'missing' to be produced")
	}
}
