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

// Package config holds the build-wide options cmd/ccx86's flags
// populate and internal/compiler reads, kept as one plain struct the way
// falcon's compile.go threads a handful of bare global flags through its
// CompileTheWorld instead of a framework-level options type.
package config

import "github.com/nyxcore/ccx86/internal/codegen/x86"

// Stage names the pipeline stage CompileUnit should stop after, for -S
// (stop before assembling) and the debug dump flags spec.md 6 names.
type Stage int

const (
	StageAsm    Stage = iota // run the full pipeline, emit assembly (cmd/ccx86 then assembles and links it with the host cc unless -S is given)
	StageIR                  // stop after internal/ir, dumping unoptimized IR text
	StageOptIR               // stop after internal/optimize, dumping optimized IR text
)

// Build collects every option the pipeline's stages consult. Zero value
// is a usable default: -O0, SysV ABI, assembly-only, non-verbose.
type Build struct {
	// Optimize, when false, skips internal/optimize.RunProgram entirely
	// (-O0); spec.md 4.5's nine passes always run as one fixed group when
	// true, matching the optimizer's "run exactly once" contract rather
	// than exposing a -O1/-O2 granularity that pass never supported.
	Optimize bool

	// Target selects the calling convention instruction selection and
	// register allocation target - SysV (the default, Linux/macOS) or
	// Win64 (spec.md 7).
	Target string

	StopAfter Stage

	// Verbose turns on per-pass optimizer/allocator debug logging via
	// internal/diag.
	Verbose bool

	// Output is not read by internal/compiler or cmd/ccx86: the driver
	// writes each assembly file next to its source and takes the linked
	// executable's name from its own -o flag.
	Output string
}

// ABI resolves Target into the internal/codegen/x86.ABI implementation,
// defaulting to SysV for an empty or unrecognized target string.
func (b *Build) ABI() x86.ABI {
	if b.Target == "win64" {
		return x86.Win64
	}
	return x86.SysV
}
