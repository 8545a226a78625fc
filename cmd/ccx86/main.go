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

// Command ccx86 is the driver: it reads one or more translation units,
// compiles each through internal/compiler, and either writes assembly
// (-S) or shells out to the host's assembler/linker, per spec.md 6's
// CLI surface. Flag plumbing is grounded on goat's single
// cobra.Command{Use,Args,Run} plus PersistentFlags()-in-init() shape
// rather than a subcommand tree, since this driver has exactly one mode
// of operation.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nyxcore/ccx86/internal/compiler"
	"github.com/nyxcore/ccx86/internal/config"
	"github.com/nyxcore/ccx86/internal/diag"
)

var command = &cobra.Command{
	Use:  "ccx86 file.c [file2.c ...]",
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.PersistentFlags().GetString("output")
		stopAtAsm, _ := cmd.PersistentFlags().GetBool("S")
		stopAtObj, _ := cmd.PersistentFlags().GetBool("c")
		optimize, _ := cmd.PersistentFlags().GetBool("O1")
		target, _ := cmd.PersistentFlags().GetString("target")
		verbose, _ := cmd.PersistentFlags().GetBool("verbose")
		dumpSSA, _ := cmd.PersistentFlags().GetBool("fdump-ssa")

		log := diag.New(verbose)
		cfg := &config.Build{Optimize: optimize, Target: target, Verbose: verbose}
		if dumpSSA {
			cfg.StopAfter = config.StageOptIR
			if !optimize {
				cfg.StopAfter = config.StageIR
			}
		}

		var objects []string
		for _, path := range args {
			obj, err := compileOne(path, cfg, log, stopAtAsm || dumpSSA)
			if err != nil {
				log.Errorf("%s", err)
				os.Exit(1)
			}
			if obj != "" {
				objects = append(objects, obj)
			}
		}
		if stopAtAsm || stopAtObj || dumpSSA || len(objects) == 0 {
			return
		}
		if err := link(objects, output); err != nil {
			log.Errorf("link: %s", err)
			os.Exit(1)
		}
	},
}

// compileOne runs one source file through the pipeline, writing its
// assembly next to the source (-S stops here) or assembling it into an
// object file via the host's cc, returning that object's path for -c/
// default-mode linking.
func compileOne(path string, cfg *config.Build, log *diag.Logger, stopAtAsm bool) (string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	asm, err := compiler.CompileUnit(src, path, cfg, log)
	if err != nil {
		return "", err
	}
	if cfg.StopAfter != config.StageAsm {
		fmt.Printf("== %s ==\n%s\n", path, asm)
		return "", nil
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	asmPath := base + ".s"
	if err := os.WriteFile(asmPath, []byte(asm), 0o644); err != nil {
		return "", fmt.Errorf("%s: %w", asmPath, err)
	}
	if stopAtAsm {
		return "", nil
	}

	objPath := base + ".o"
	cmd := exec.Command("cc", "-c", asmPath, "-o", objPath)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("assemble %s: %w: %s", asmPath, err, stderr.String())
	}
	return objPath, nil
}

func link(objects []string, output string) error {
	if output == "" {
		output = "a.out"
	}
	args := append(append([]string{}, objects...), "-o", output)
	cmd := exec.Command("cc", args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return nil
}

func init() {
	command.PersistentFlags().StringP("output", "o", "", "output executable name")
	command.PersistentFlags().Bool("S", false, "stop after emitting assembly")
	command.PersistentFlags().Bool("c", false, "stop after assembling to an object file")
	command.PersistentFlags().Bool("O1", false, "run the nine-pass SSA optimizer")
	command.PersistentFlags().String("target", "sysv", "target ABI (sysv, win64)")
	command.PersistentFlags().BoolP("verbose", "v", false, "log pass-by-pass compiler progress")
	command.PersistentFlags().Bool("fdump-ssa", false, "print SSA IR text to stdout instead of emitting assembly")
}

func main() {
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
