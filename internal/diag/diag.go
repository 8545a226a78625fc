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

// Package diag is this compiler's leveled logger, bracketed-prefix
// messages routed through a hashicorp/logutils.LevelFilter the way
// qjcg-driving's main.go wires one up around the standard log package -
// a verbose flag just lowers MinLevel from INFO to DEBUG rather than
// swapping logger implementations.
package diag

import (
	"log"
	"os"

	"github.com/hashicorp/logutils"
)

// Logger wraps the standard library logger behind a level filter so
// internal/compiler's pipeline stages can log optimizer/selector/
// allocator progress without every call site caring whether -v was
// passed.
type Logger struct {
	verbose bool
	errs    int
}

// New installs a logutils.LevelFilter on the standard logger's output,
// mirroring qjcg-driving's Levels/MinLevel setup; verbose lowers
// MinLevel to DEBUG the same way that repo's -v flag does.
func New(verbose bool) *Logger {
	filter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel("INFO"),
		Writer:   os.Stderr,
	}
	if verbose {
		filter.MinLevel = logutils.LogLevel("DEBUG")
	}
	log.SetOutput(filter)
	log.SetFlags(0)
	return &Logger{verbose: verbose}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	log.Printf("[DEBUG] "+format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	log.Printf("[WARN] "+format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.errs++
	log.Printf("[ERROR] "+format, args...)
}

// Failed reports whether any Errorf call has been made. internal/compiler
// does not call it; CompileUnit stops on the errors its stages return.
func (l *Logger) Failed() bool { return l.errs > 0 }

// PassLog adapts Logger into the func(format string, args ...interface{})
// shape internal/optimize.RunProgram expects, routed through Debugf so
// pass-by-pass traces only appear under -v.
func (l *Logger) PassLog() func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		l.Debugf(format, args...)
	}
}
