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

// Package x86 holds the physical register file, calling-convention
// ABIs, and instruction selection that turn internal/ir SSA into
// internal/codegen/lir three-operand form. Grounded on falcon's
// compile/codegen/register_x86.go/arch_x86.go/lower_x86.go, widened
// with a real ABI interface (System V and Microsoft x64) instead of
// falcon's single hard-coded convention, per spec.md 7.
package x86

import "github.com/nyxcore/ccx86/internal/codegen/lir"

// Affinity groups registers the allocator should prefer coalescing
// together - here, each general-purpose register's 64/32/16/8-bit
// aliases share one group so a value defined in one width can be read
// back in another without a spurious reload.
const (
	affRAX = iota
	affRBX
	affRCX
	affRDX
	affRSI
	affRDI
	affRBP
	affRSP
	affR8
	affR9
	affR10
	affR11
	affR12
	affR13
	affR14
	affR15
)

func gpReg(name string, aff int) lir.Register {
	return lir.Register{Name: name, Type: lir.TypeQWord, Affinity: aff}
}

var (
	RAX = gpReg("rax", affRAX)
	RBX = gpReg("rbx", affRBX)
	RCX = gpReg("rcx", affRCX)
	RDX = gpReg("rdx", affRDX)
	RSI = gpReg("rsi", affRSI)
	RDI = gpReg("rdi", affRDI)
	RBP = gpReg("rbp", affRBP)
	RSP = gpReg("rsp", affRSP)
	R8  = gpReg("r8", affR8)
	R9  = gpReg("r9", affR9)
	R10 = gpReg("r10", affR10)
	R11 = gpReg("r11", affR11)
	R12 = gpReg("r12", affR12)
	R13 = gpReg("r13", affR13)
	R14 = gpReg("r14", affR14)
	R15 = gpReg("r15", affR15)
)

// GPRegs is every general-purpose integer register available to the
// allocator, RSP/RBP excluded (reserved for the frame).
var GPRegs = []lir.Register{RAX, RBX, RCX, RDX, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15}

// RIP is a pseudo-register used only as a Mem.Base to request RIP-relative
// addressing for a global or string/float constant; the emitter recognizes
// it by name and formats "[rip+sym]" instead of a real base register.
var RIP = lir.Register{Name: "rip", Type: lir.TypeQWord}

func xmmReg(idx int, t *lir.Type) lir.Register {
	names := [...]string{"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
		"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15"}
	return lir.Register{Name: names[idx], Type: t, Affinity: 100 + idx}
}

// XMMRegs is every SSE2 scalar float/double register available to the
// allocator.
var XMMRegs = func() []lir.Register {
	regs := make([]lir.Register, 16)
	for i := range regs {
		regs[i] = xmmReg(i, lir.TypeSD)
	}
	return regs
}()

// subWidth returns reg narrowed to width bytes, by name substitution -
// the same physical register, just addressed through its narrower
// alias, per the System V LP64 width promotion rules (spec.md 6).
func subWidth(reg lir.Register, width int) lir.Register {
	names32 := map[string]string{"rax": "eax", "rbx": "ebx", "rcx": "ecx", "rdx": "edx",
		"rsi": "esi", "rdi": "edi", "rbp": "ebp", "rsp": "esp",
		"r8": "r8d", "r9": "r9d", "r10": "r10d", "r11": "r11d",
		"r12": "r12d", "r13": "r13d", "r14": "r14d", "r15": "r15d"}
	names16 := map[string]string{"rax": "ax", "rbx": "bx", "rcx": "cx", "rdx": "dx",
		"rsi": "si", "rdi": "di", "rbp": "bp", "rsp": "sp",
		"r8": "r8w", "r9": "r9w", "r10": "r10w", "r11": "r11w",
		"r12": "r12w", "r13": "r13w", "r14": "r14w", "r15": "r15w"}
	names8 := map[string]string{"rax": "al", "rbx": "bl", "rcx": "cl", "rdx": "dl",
		"rsi": "sil", "rdi": "dil", "rbp": "bpl", "rsp": "spl",
		"r8": "r8b", "r9": "r9b", "r10": "r10b", "r11": "r11b",
		"r12": "r12b", "r13": "r13b", "r14": "r14b", "r15": "r15b"}
	var table map[string]string
	var t *lir.Type
	switch width {
	case 1:
		table, t = names8, lir.TypeByte
	case 2:
		table, t = names16, lir.TypeWord
	case 4:
		table, t = names32, lir.TypeDWord
	default:
		return reg
	}
	if reg.Virtual {
		return lir.Register{Index: reg.Index, Virtual: true, Type: t, Affinity: reg.Affinity}
	}
	if name, ok := table[reg.Name]; ok {
		return lir.Register{Name: name, Type: t, Affinity: reg.Affinity}
	}
	return reg
}

// SubWidth exports subWidth for internal/codegen/emit, which needs the
// same name-substitution to print the correctly-sized alias of a physical
// register (e.g. "eax" instead of "rax" for a 32-bit mov).
func SubWidth(reg lir.Register, width int) lir.Register { return subWidth(reg, width) }

// ABI abstracts the calling convention differences spec.md 7 requires
// (System V AMD64 vs Microsoft x64): argument register assignment,
// which registers the callee must preserve, and the shadow-space/red-
// zone stack adjustments around a call.
type ABI interface {
	Name() string
	IntArgReg(idx int) (lir.Register, bool)
	FloatArgReg(idx int) (lir.Register, bool)
	MaxIntRegArgs() int
	MaxFloatRegArgs() int
	CallerSaved() []lir.Register
	CalleeSaved() []lir.Register
	ShadowSpace() int64 // bytes reserved on the caller's frame before a call, 0 for System V
}

type sysV struct{}

// SysV is the System V AMD64 ABI: rdi,rsi,rdx,rcx,r8,r9 for integer
// args, xmm0-7 for float args, a 128-byte red zone, no shadow space.
var SysV ABI = sysV{}

func (sysV) Name() string { return "sysv" }

func (sysV) IntArgReg(idx int) (lir.Register, bool) {
	regs := []lir.Register{RDI, RSI, RDX, RCX, R8, R9}
	if idx < len(regs) {
		return regs[idx], true
	}
	return lir.Register{}, false
}

func (sysV) FloatArgReg(idx int) (lir.Register, bool) {
	if idx < 8 {
		return xmmReg(idx, lir.TypeSD), true
	}
	return lir.Register{}, false
}

func (sysV) MaxIntRegArgs() int   { return 6 }
func (sysV) MaxFloatRegArgs() int { return 8 }

func (sysV) CallerSaved() []lir.Register {
	return []lir.Register{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}
}

func (sysV) CalleeSaved() []lir.Register {
	return []lir.Register{RBX, R12, R13, R14, R15, RBP}
}

func (sysV) ShadowSpace() int64 { return 0 }

type win64 struct{}

// Win64 is the Microsoft x64 ABI: rcx,rdx,r8,r9 for integer args,
// xmm0-3 for float args (sharing the same slot index as the integer
// args, not a separate counter), a mandatory 32-byte shadow space, no
// red zone.
var Win64 ABI = win64{}

func (win64) Name() string { return "win64" }

func (win64) IntArgReg(idx int) (lir.Register, bool) {
	regs := []lir.Register{RCX, RDX, R8, R9}
	if idx < len(regs) {
		return regs[idx], true
	}
	return lir.Register{}, false
}

func (win64) FloatArgReg(idx int) (lir.Register, bool) {
	if idx < 4 {
		return xmmReg(idx, lir.TypeSD), true
	}
	return lir.Register{}, false
}

func (win64) MaxIntRegArgs() int   { return 4 }
func (win64) MaxFloatRegArgs() int { return 4 }

func (win64) CallerSaved() []lir.Register {
	return []lir.Register{RAX, RCX, RDX, R8, R9, R10, R11}
}

func (win64) CalleeSaved() []lir.Register {
	return []lir.Register{RBX, RBP, RDI, RSI, R12, R13, R14, R15}
}

func (win64) ShadowSpace() int64 { return 32 }
