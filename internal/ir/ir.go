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

// Package ir is the SSA intermediate representation: Values live in
// Blocks, Blocks live in a Func. Builder lowers locals to FrameAddr slots
// read and written through Load/Store, creating phis itself only at the
// joins it builds with both predecessors in hand (ternary, && and ||);
// internal/optimize's mem2reg pass later promotes the slots to SSA
// values. Grounded on falcon's compile/ssa/hir.go Value/Block/Func data
// model, widened with the Volatile flag spec.md 4.4 and 4.5 need for
// memory ops.
package ir

import (
	"fmt"

	"github.com/nyxcore/ccx86/internal/types"
)

type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNeg
	OpNot    // bitwise ~
	OpLogNot // boolean !

	OpCmpEQ
	OpCmpNE
	OpCmpLT
	OpCmpLE
	OpCmpGT
	OpCmpGE

	OpConstInt
	OpConstFloat
	OpConstString // Sym holds the interned label
	OpConstAddr   // address-of a global/function, Sym holds the name

	OpPhi
	OpCopy
	OpParam
	OpCall // Sym holds the callee name (direct) or "$indirect" (callee address is the last Arg)

	// Memory: address computation is explicit so the optimizer can keep
	// load forwarding/CSE/DCE blind to Volatile without special-casing
	// the addressing math, per spec.md 9 Open Question 1.
	OpFrameAddr  // address of a local, Sym holds the local's symbolic name
	OpGlobalAddr // address of a global, Sym holds the name
	OpAddPtr     // pointer + scaled index (array/pointer arithmetic)
	OpLoad       // Args[0] = address
	OpStore      // Args[0] = address, Args[1] = value
	OpConvert    // numeric conversion, Sym holds the *types.Type to convert from
)

func (op Op) String() string {
	names := [...]string{
		"Add", "Sub", "Mul", "Div", "Mod", "And", "Or", "Xor", "Shl", "Shr",
		"Neg", "Not", "LogNot",
		"CmpEQ", "CmpNE", "CmpLT", "CmpLE", "CmpGT", "CmpGE",
		"ConstInt", "ConstFloat", "ConstString", "ConstAddr",
		"Phi", "Copy", "Param", "Call",
		"FrameAddr", "GlobalAddr", "AddPtr", "Load", "Store", "Convert",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// Value is one SSA definition.
type Value struct {
	ID       int
	Op       Op
	Type     *types.Type
	Args     []*Value
	Block    *Block
	Sym      interface{}
	Volatile bool // spec.md 4.4/4.5: pins Load/Store against forwarding/CSE/DCE

	Uses     []*Value
	UseBlock []*Block // blocks whose terminator reads this value as its condition

	// CoalesceWith names another Value that phi removal (internal/optimize)
	// wants assigned the same physical Location: a Copy produced to feed a
	// phi's value from one predecessor hints at the phi itself here, and
	// instruction selection (internal/codegen/x86's Selector.vreg) gives
	// the Copy the phi's own virtual register; the copy is still emitted
	// as a mov into it, per spec.md 4.6's "coalescing hints".
	CoalesceWith *Value
}

func (v *Value) AddArg(args ...*Value) {
	for _, a := range args {
		v.Args = append(v.Args, a)
		a.Uses = append(a.Uses, v)
	}
}

func (v *Value) AddUseBlock(b *Block) {
	v.UseBlock = append(v.UseBlock, b)
	b.Ctrl = v
}

func (v *Value) RemoveUseBlock(b *Block) {
	for i := len(v.UseBlock) - 1; i >= 0; i-- {
		if v.UseBlock[i] == b {
			v.UseBlock = append(v.UseBlock[:i], v.UseBlock[i+1:]...)
		}
	}
	if b.Ctrl == v {
		b.Ctrl = nil
	}
}

func (v *Value) RemoveUse(use *Value) {
	for i := len(v.Uses) - 1; i >= 0; i-- {
		if v.Uses[i] == use {
			v.Uses = append(v.Uses[:i], v.Uses[i+1:]...)
		}
	}
}

// ReplaceUses rewrites every use of v to point at other instead,
// mirroring falcon's Value.ReplaceUses used during trivial-phi removal
// and the optimizer's copy-propagation pass.
func (v *Value) ReplaceUses(other *Value) {
	for _, use := range v.Uses {
		for i, arg := range use.Args {
			if arg == v {
				use.Args[i] = other
				other.Uses = append(other.Uses, use)
			}
		}
	}
	v.Uses = nil
	if v.UseBlock != nil {
		other.UseBlock = append(other.UseBlock, v.UseBlock...)
		for _, b := range other.UseBlock {
			b.Ctrl = other
		}
		v.UseBlock = nil
	}
}

func (v *Value) String() string {
	s := fmt.Sprintf("v%d = %v", v.ID, v.Op)
	if v.Type != nil {
		s += fmt.Sprintf("<%s>", v.Type.String())
	}
	if v.Volatile {
		s += "!volatile"
	}
	for _, a := range v.Args {
		s += fmt.Sprintf(" v%d", a.ID)
	}
	if v.Sym != nil {
		s += fmt.Sprintf(" @%v", v.Sym)
	}
	return s
}

type BlockKind int

const (
	BlockIf BlockKind = iota
	BlockGoto
	BlockReturn
	BlockDead
)

func (k BlockKind) String() string {
	switch k {
	case BlockIf:
		return "If"
	case BlockGoto:
		return "Goto"
	case BlockReturn:
		return "Return"
	default:
		return "Dead"
	}
}

type BlockHint int

const (
	HintNone BlockHint = iota
	HintEntry
	HintLoopHeader
)

type Block struct {
	Func   *Func
	ID     int
	Kind   BlockKind
	Values []*Value
	Succs  []*Block
	Preds  []*Block
	Ctrl   *Value
	Hint   BlockHint
}

func (b *Block) WireTo(to *Block) {
	b.Succs = append(b.Succs, to)
	to.Preds = append(to.Preds, b)
}

func (b *Block) RemoveSucc(s *Block) {
	for i, x := range b.Succs {
		if x == s {
			b.Succs = append(b.Succs[:i], b.Succs[i+1:]...)
			return
		}
	}
}

func (b *Block) RemovePred(p *Block) {
	for i, x := range b.Preds {
		if x == p {
			b.Preds = append(b.Preds[:i], b.Preds[i+1:]...)
			return
		}
	}
}

func (b *Block) NewValue(op Op, t *types.Type, args ...*Value) *Value {
	v := &Value{ID: b.Func.nextValueID, Op: op, Type: t, Block: b}
	b.Func.nextValueID++
	for _, a := range args {
		v.AddArg(a)
	}
	if op == OpPhi {
		b.Values = append([]*Value{v}, b.Values...)
	} else {
		b.Values = append(b.Values, v)
	}
	return v
}

func (b *Block) RemoveValue(v *Value) {
	for i, x := range b.Values {
		if x == v {
			for _, arg := range v.Args {
				arg.RemoveUse(v)
			}
			b.Values = append(b.Values[:i], b.Values[i+1:]...)
			return
		}
	}
}

func (b *Block) String() string {
	s := fmt.Sprintf("b%d:", b.ID)
	for _, v := range b.Values {
		s += fmt.Sprintf("\n  %v", v)
	}
	s += fmt.Sprintf("\n  %s", b.Kind)
	if b.Ctrl != nil {
		s += fmt.Sprintf(" v%d", b.Ctrl.ID)
	}
	if len(b.Succs) > 0 {
		s += " ->"
		for _, succ := range b.Succs {
			s += fmt.Sprintf(" b%d", succ.ID)
		}
	}
	return s
}

// Func is one compiled function in SSA form.
type Func struct {
	Name        string
	Entry       *Block
	Blocks      []*Block
	Ret         *types.Type
	ParamTypes  []*types.Type
	Variadic    bool
	IsStatic    bool
	Layouts     *types.LayoutTable
	nextValueID int
	nextBlockID int
}

func NewFunc(name string, layouts *types.LayoutTable) *Func {
	return &Func{Name: name, Layouts: layouts}
}

func (fn *Func) NewBlock(kind BlockKind) *Block {
	b := &Block{Func: fn, ID: fn.nextBlockID, Kind: kind}
	fn.nextBlockID++
	fn.Blocks = append(fn.Blocks, b)
	return b
}

func (fn *Func) RemoveBlock(b *Block) {
	for i, x := range fn.Blocks {
		if x == b {
			fn.Blocks = append(fn.Blocks[:i], fn.Blocks[i+1:]...)
			return
		}
	}
}

func (fn *Func) String() string {
	s := fmt.Sprintf("func %s:\n", fn.Name)
	for _, b := range fn.Blocks {
		s += b.String() + "\n"
	}
	return s
}

// Program is every function plus the program-level tables threaded
// through the rest of the pipeline, per spec.md 5.
type Program struct {
	Funcs           []*Func
	Layouts         *types.LayoutTable
	Globals         []*Global
	StringLiterals  []StringEntry
}

type Global struct {
	Name     string
	Type     *types.Type
	Init     interface{} // nil, a constant int64/float64, or a string literal's string; nil for aggregates
	IsStatic bool
	IsExtern bool
}

type StringEntry struct {
	Label string
	Value string
}
