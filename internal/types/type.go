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

// Package types models the C type lattice: scalars, pointers, arrays,
// struct/union/typedef-by-name, function signatures, and typeof(expr),
// kept as a Typeof type holding the unevaluated operand; no stage
// resolves it to a concrete type. Grounded on falcon's
// ast/type.go two-stage Infer/TypeChecker design, widened to the C type
// system and the System V LP64 size/alignment model (spec.md 6).
package types

import "fmt"

// Kind discriminates the sum-type Type.
type Kind int

const (
	Invalid Kind = iota
	Void
	Bool
	Char
	Short
	Int
	Long
	LongLong
	Float
	Double
	Pointer
	Array
	Struct
	Union
	Enum
	Function
	TypedefName
	// Typeof holds typeof(expr)'s operand in DeferredExpr. No stage
	// resolves it, and Size reports 0 for it.
	Typeof
)

// Qualifiers are carried alongside the base type, not folded into Kind.
type Qualifiers struct {
	Const    bool
	Volatile bool
	Restrict bool
}

// Type is the recursive sum described in spec.md 3.
type Type struct {
	Kind  Kind
	Quals Qualifiers

	// Scalar-ness
	Unsigned bool

	// Pointer / Array
	Elem    *Type
	ArrayN  int64 // -1 if size is unspecified/incomplete
	HasSize bool

	// Struct / Union / Enum / TypedefName
	Name string

	// Function
	Params   []*Type
	Ret      *Type
	Variadic bool

	// Typeof
	DeferredExpr interface{} // an ast.Expr as parsed; kept untyped to avoid an import cycle
}

var (
	VoidType   = &Type{Kind: Void}
	BoolType   = &Type{Kind: Bool}
	CharType   = &Type{Kind: Char}
	UCharType  = &Type{Kind: Char, Unsigned: true}
	ShortType  = &Type{Kind: Short}
	IntType    = &Type{Kind: Int}
	UIntType   = &Type{Kind: Int, Unsigned: true}
	LongType   = &Type{Kind: Long}
	ULongType  = &Type{Kind: Long, Unsigned: true}
	FloatType  = &Type{Kind: Float}
	DoubleType = &Type{Kind: Double}
)

func PointerTo(elem *Type) *Type { return &Type{Kind: Pointer, Elem: elem} }

func ArrayOf(elem *Type, n int64) *Type {
	return &Type{Kind: Array, Elem: elem, ArrayN: n, HasSize: n >= 0}
}

func (t *Type) IsScalar() bool {
	switch t.Kind {
	case Bool, Char, Short, Int, Long, LongLong, Float, Double, Pointer, Enum:
		return true
	}
	return false
}

func (t *Type) IsInteger() bool {
	switch t.Kind {
	case Bool, Char, Short, Int, Long, LongLong, Enum:
		return true
	}
	return false
}

func (t *Type) IsFloating() bool { return t.Kind == Float || t.Kind == Double }
func (t *Type) IsPointer() bool  { return t.Kind == Pointer }
func (t *Type) IsArray() bool    { return t.Kind == Array }
func (t *Type) IsAggregate() bool {
	return t.Kind == Struct || t.Kind == Union || t.Kind == Array
}

// Size returns the byte size per the System V LP64 model documented in
// spec.md 6: char=1, short=2, int=4, long=8, long long=8, pointer=8.
// Struct/union sizes come from the LayoutTable, which the parser fills
// through ComputeLayout once per definition.
func (t *Type) Size(layouts *LayoutTable) int64 {
	switch t.Kind {
	case Void:
		return 0
	case Bool, Char:
		return 1
	case Short:
		return 2
	case Int, Float, Enum:
		return 4
	case Long, LongLong, Double, Pointer, Function:
		return 8
	case Array:
		if !t.HasSize {
			return 0
		}
		return t.ArrayN * t.Elem.Size(layouts)
	case Struct, Union, TypedefName:
		if layouts != nil {
			if l, ok := layouts.Get(t.Name); ok {
				return l.Size
			}
		}
		return 0
	}
	return 0
}

func (t *Type) Align(layouts *LayoutTable) int64 {
	switch t.Kind {
	case Array:
		return t.Elem.Align(layouts)
	case Struct, Union, TypedefName:
		if layouts != nil {
			if l, ok := layouts.Get(t.Name); ok {
				return l.Align
			}
		}
		return 8
	default:
		sz := t.Size(layouts)
		if sz == 0 {
			return 1
		}
		return sz
	}
}

func (t *Type) String() string {
	switch t.Kind {
	case Void:
		return "void"
	case Bool:
		return "_Bool"
	case Char:
		if t.Unsigned {
			return "unsigned char"
		}
		return "char"
	case Short:
		return "short"
	case Int:
		if t.Unsigned {
			return "unsigned int"
		}
		return "int"
	case Long:
		if t.Unsigned {
			return "unsigned long"
		}
		return "long"
	case LongLong:
		return "long long"
	case Float:
		return "float"
	case Double:
		return "double"
	case Pointer:
		return fmt.Sprintf("%s*", t.Elem.String())
	case Array:
		return fmt.Sprintf("%s[%d]", t.Elem.String(), t.ArrayN)
	case Struct:
		return fmt.Sprintf("struct %s", t.Name)
	case Union:
		return fmt.Sprintf("union %s", t.Name)
	case Enum:
		return fmt.Sprintf("enum %s", t.Name)
	case TypedefName:
		return t.Name
	default:
		return "?"
	}
}

// Field is one struct/union member with a precomputed byte offset.
type Field struct {
	Name   string
	Type   *Type
	Offset int64
}

// Layout is the computed size/alignment/field-offset table for one
// struct or union, per spec.md 4.4 ("Struct/union member access ...
// precomputed byte offset").
type Layout struct {
	IsUnion bool
	Packed  bool
	Align   int64
	Size    int64
	Fields  []Field
}

// LayoutTable maps struct/union tag names to their computed Layout,
// shared read-only once populated (spec.md 5: "program-level tables").
type LayoutTable struct {
	byName map[string]*Layout
}

func NewLayoutTable() *LayoutTable {
	return &LayoutTable{byName: make(map[string]*Layout)}
}

func (lt *LayoutTable) Get(name string) (*Layout, bool) {
	l, ok := lt.byName[name]
	return l, ok
}

func (lt *LayoutTable) Set(name string, l *Layout) {
	lt.byName[name] = l
}

// ComputeLayout lays out fields with natural alignment and trailing
// padding to the largest member's alignment; packed removes all padding;
// alignedOverride (0 if absent) forces the whole struct's alignment up to
// attribute((aligned(N))).
func ComputeLayout(fields []Field, isUnion, packed bool, alignedOverride int64, layouts *LayoutTable) *Layout {
	l := &Layout{IsUnion: isUnion, Packed: packed}
	var offset int64
	var maxAlign int64 = 1
	for i := range fields {
		f := &fields[i]
		align := int64(1)
		if !packed {
			align = f.Type.Align(layouts)
		}
		if align > maxAlign {
			maxAlign = align
		}
		if isUnion {
			f.Offset = 0
			sz := f.Type.Size(layouts)
			if sz > l.Size {
				l.Size = sz
			}
			continue
		}
		if !packed && align > 0 {
			offset = alignUp(offset, align)
		}
		f.Offset = offset
		offset += f.Type.Size(layouts)
	}
	if alignedOverride > maxAlign {
		maxAlign = alignedOverride
	}
	l.Align = maxAlign
	if !isUnion {
		l.Size = offset
	}
	if !packed {
		l.Size = alignUp(l.Size, maxAlign)
	}
	l.Fields = fields
	return l
}

func alignUp(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
