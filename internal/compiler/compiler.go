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

// Package compiler wires the pipeline's stages together for one
// translation unit, grounded on falcon's compile/compiler.go
// parseY/compileY/CompileTheWorld staging (a thin sequence of stage
// calls with progress logging and an early return on the first fatal
// error) rather than a framework-style driver object.
package compiler

import (
	"fmt"
	"strings"

	"github.com/nyxcore/ccx86/internal/ast"
	"github.com/nyxcore/ccx86/internal/codegen/emit"
	"github.com/nyxcore/ccx86/internal/codegen/lir"
	"github.com/nyxcore/ccx86/internal/codegen/regalloc"
	"github.com/nyxcore/ccx86/internal/codegen/x86"
	"github.com/nyxcore/ccx86/internal/config"
	"github.com/nyxcore/ccx86/internal/diag"
	"github.com/nyxcore/ccx86/internal/ir"
	"github.com/nyxcore/ccx86/internal/optimize"
	"github.com/nyxcore/ccx86/internal/parser"
	"github.com/nyxcore/ccx86/internal/peephole"
	"github.com/nyxcore/ccx86/internal/types"
	"github.com/nyxcore/ccx86/internal/utils"
)

// CompileUnit runs one translation unit's source bytes through every
// stage - parse, check, build SSA IR, optimize, select instructions,
// allocate registers, emit assembly - per spec.md 3's pipeline order,
// stopping early and returning an error as soon as any stage reports
// one, the same fail-fast shape as falcon's compileC/CompileTheWorld.
func CompileUnit(src []byte, name string, cfg *config.Build, log *diag.Logger) (string, error) {
	prog, err := parser.Parse(src)
	if err != nil {
		log.Errorf("%s: parse failed: %s", name, err)
		return "", fmt.Errorf("%s: %w", name, err)
	}
	log.Debugf("%s: parsed %d top-level declarations", name, len(prog.Decls))

	checker := types.NewChecker(prog.Layouts)
	checkGlobals(checker, prog)
	if errs := checker.Errors(); len(errs) > 0 {
		for _, e := range errs {
			log.Errorf("%s: %s", name, e)
		}
		return "", fmt.Errorf("%s: %d semantic error(s)", name, len(errs))
	}

	irProg, err := ir.BuildProgram(prog)
	if err != nil {
		log.Errorf("%s: IR build failed: %s", name, err)
		return "", fmt.Errorf("%s: %w", name, err)
	}
	log.Debugf("%s: lowered functions: %s", name,
		strings.Join(utils.Names(irProg.Funcs, func(f *ir.Func) string { return f.Name }), ", "))

	if cfg.Optimize {
		optimize.RunProgram(irProg, cfg.Verbose, log.PassLog())
	}
	if cfg.StopAfter == config.StageIR || cfg.StopAfter == config.StageOptIR {
		return dumpIR(irProg), nil
	}

	lirFuncs, err := selectAndAllocate(irProg, cfg, log)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	return emit.New().EmitUnit(lirFuncs, irProg.Globals, irProg.StringLiterals, irProg.Layouts), nil
}

// checkGlobals runs the checker's assignability rule over every global's
// initializer, the one declaration-level mistake visible without walking
// a function body: a const-qualified extern global given an initializer
// here rather than at its one legitimate definition site. This is a
// deliberately narrow slice of types.Checker's full per-expression role
// (CheckAssignableTo on every assignment, CheckCallArity on every call,
// ResolveBinary on every binary operator) - that broader wiring into
// internal/ir's expression lowering does not exist yet; see DESIGN.md.
func checkGlobals(c *types.Checker, prog *ast.Program) {
	for _, d := range prog.Decls {
		gv, ok := d.(*ast.GlobalVarDecl)
		if !ok || gv.Init == nil {
			continue
		}
		if gv.Type != nil && gv.Type.Quals.Const && gv.IsExtern {
			c.CheckAssignableTo(gv.Type, fmt.Sprintf("global %q", gv.Name))
		}
	}
}

// selectAndAllocate runs instruction selection and register allocation
// over every function in irProg, returning allocated LIR ready for
// internal/codegen/emit. Frame size grows by the allocator's spill
// bytes, realigned to 16 the way internal/codegen/x86's Selector already
// aligns its own locals area, since emit.go's prologue writes the final
// "sub rsp, N" straight from Func.FrameSize with no further patching.
func selectAndAllocate(irProg *ir.Program, cfg *config.Build, log *diag.Logger) ([]*lir.Func, error) {
	abi := cfg.ABI()
	sel := x86.NewSelector(abi, irProg.Layouts)

	callerSaved := make(map[string]bool)
	for _, r := range abi.CallerSaved() {
		callerSaved[r.Name] = true
	}

	out := make([]*lir.Func, 0, len(irProg.Funcs))
	for _, fn := range irProg.Funcs {
		lfn := sel.Select(fn)

		res := regalloc.Allocate(lfn, x86.GPRegs, x86.XMMRegs, callerSaved)
		if res.SpillBytes > 0 {
			lfn.FrameSize = utils.Align16(lfn.FrameSize + res.SpillBytes)
			log.Debugf("%s: spilled %d bytes, frame grown to %d", lfn.Name, res.SpillBytes, lfn.FrameSize)
		}
		peephole.Run(lfn)
		out = append(out, lfn)
	}
	return out, nil
}

func dumpIR(prog *ir.Program) string {
	var sb strings.Builder
	for _, fn := range prog.Funcs {
		sb.WriteString(fn.String())
	}
	return sb.String()
}
