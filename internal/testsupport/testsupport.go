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

// Package testsupport is the end-to-end test harness this package's own
// scenario tests run through (no other package's tests import it): compile
// a C source string down to assembly, hand it to the host's assembler and
// linker the same way falcon's test/code_test.go's ExecExpect shells out
// to gcc rather than reimplementing an assembler, run the resulting
// binary, and check its exit status. The "// EXPECT: <int>" convention
// spec.md 6 describes is read here, not by the compiler itself.
package testsupport

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nyxcore/ccx86/internal/compiler"
	"github.com/nyxcore/ccx86/internal/config"
	"github.com/nyxcore/ccx86/internal/diag"
)

// CompileAndRun compiles src with an optimizing SysV build, assembles
// and links the result with the host's cc, runs it, and returns its
// exit status. Callers compare that against the value a "// EXPECT: N"
// comment (or a hardcoded expectation, for tests that don't bother with
// the comment convention) names.
func CompileAndRun(src string) (int, error) {
	cfg := &config.Build{Optimize: true}
	log := diag.New(false)

	asm, err := compiler.CompileUnit([]byte(src), "test.c", cfg, log)
	if err != nil {
		return 0, fmt.Errorf("compile: %w", err)
	}

	dir, err := os.MkdirTemp("", "ccx86-test")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	asmPath := filepath.Join(dir, "test.s")
	if err := os.WriteFile(asmPath, []byte(asm), 0o644); err != nil {
		return 0, err
	}

	binPath := filepath.Join(dir, "test.out")
	cc := exec.Command("cc", asmPath, "-o", binPath)
	var stderr strings.Builder
	cc.Stderr = &stderr
	if err := cc.Run(); err != nil {
		return 0, fmt.Errorf("assemble/link: %w: %s", err, stderr.String())
	}

	run := exec.Command(binPath)
	runErr := run.Run()
	if runErr == nil {
		return 0, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("run: %w", runErr)
}

// ExpectedExit parses the "// EXPECT: <int>" convention off the first
// line of src, returning ok=false when the line isn't present so a
// caller can fall back to an explicit expectation argument instead.
func ExpectedExit(src string) (int, bool) {
	first := strings.SplitN(strings.TrimSpace(src), "\n", 2)[0]
	const prefix = "// EXPECT:"
	if !strings.HasPrefix(first, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(first[len(prefix):]))
	if err != nil {
		return 0, false
	}
	return n, true
}
