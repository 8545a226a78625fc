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

// Package utils holds the assertion/panic helpers carried over from the
// teacher's own utils.Assert/Unimplement/ShouldNotReachHere idiom (no
// other package calls them), Align16, and one samber/lo-backed collection
// helper, Names, which internal/compiler uses to log which functions a
// translation unit lowered.
package utils

import "fmt"

func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Unimplement panics with a standard "not implemented: <what>" message.
func Unimplement(what string) {
	panic(fmt.Sprintf("not implemented: %s", what))
}

func ShouldNotReachHere(why string) {
	panic(fmt.Sprintf("should not reach here: %s", why))
}

func Align16(n int64) int64 {
	return (n + 15) &^ 15
}
