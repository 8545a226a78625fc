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

package utils

import "github.com/samber/lo"

// Names maps a slice of pointer-to-struct values to one of their fields
// via get, e.g. Names(prog.Funcs, func(f *ir.Func) string { return f.Name
// }) - used by internal/compiler to log which functions a translation
// unit produced without a hand-rolled loop at every call site.
func Names[T any](items []T, get func(T) string) []string {
	return lo.Map(items, func(item T, _ int) string { return get(item) })
}
