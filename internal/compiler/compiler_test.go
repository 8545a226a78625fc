// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package compiler

import (
	"strings"
	"testing"

	"github.com/nyxcore/ccx86/internal/config"
	"github.com/nyxcore/ccx86/internal/diag"
)

func TestCompileUnitReturnsAssembly(t *testing.T) {
	cfg := &config.Build{Optimize: true}
	log := diag.New(false)

	asm, err := CompileUnit([]byte("int main(){return 0;}"), "t.c", cfg, log)
	if err != nil {
		t.Fatalf("CompileUnit: %s", err)
	}
	if !strings.Contains(asm, ".intel_syntax noprefix") {
		t.Fatalf("expected Intel-syntax assembly output, got:\n%s", asm)
	}
}

func TestCompileUnitParseErrorIsFatal(t *testing.T) {
	cfg := &config.Build{}
	log := diag.New(false)

	_, err := CompileUnit([]byte("int main( { return 0; }"), "t.c", cfg, log)
	if err == nil {
		t.Fatalf("expected a parse error for malformed source")
	}
}

func TestCompileUnitStopsAfterIRDump(t *testing.T) {
	cfg := &config.Build{StopAfter: config.StageIR}
	log := diag.New(false)

	out, err := CompileUnit([]byte("int main(){return 0;}"), "t.c", cfg, log)
	if err != nil {
		t.Fatalf("CompileUnit: %s", err)
	}
	if !strings.Contains(out, "func main:") {
		t.Fatalf("expected an IR dump naming the function, got:\n%s", out)
	}
	if strings.Contains(out, ".intel_syntax noprefix") {
		t.Fatalf("did not expect assembly to be emitted when StopAfter is StageIR, got:\n%s", out)
	}
}

func TestCheckGlobalsFlagsReinitializedConstExtern(t *testing.T) {
	cfg := &config.Build{}
	log := diag.New(false)

	src := "extern const int limit = 10;int main(){return limit;}"
	_, err := CompileUnit([]byte(src), "t.c", cfg, log)
	if err == nil {
		t.Fatalf("expected checkGlobals to reject an initializer on a const extern global")
	}
}

func TestCompileUnitRejectsVaArg(t *testing.T) {
	cfg := &config.Build{}
	log := diag.New(false)

	src := "int sum(int n, ...){__builtin_va_list ap;__builtin_va_start(ap, n);int r=__builtin_va_arg(ap, int);__builtin_va_end(ap);return r;}"
	_, err := CompileUnit([]byte(src), "t.c", cfg, log)
	if err == nil {
		t.Fatalf("expected va_arg to be rejected instead of silently lowered")
	}
}
