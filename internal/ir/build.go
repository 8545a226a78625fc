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

package ir

import (
	"fmt"

	"github.com/nyxcore/ccx86/internal/ast"
	"github.com/nyxcore/ccx86/internal/types"
)

// Builder lowers one translation unit's checked AST into SSA form, one
// function at a time. Every named local and parameter is given a
// FrameAddr slot uniformly (mirroring real-world "store every local to
// an alloca first" lowering); promotable slots are converted to true
// SSA values with on-the-fly phi insertion by the optimizer's mem2reg
// pass (internal/optimize), not here - see spec.md 4.4/4.5 and
// DESIGN.md's note on why Braun et al. construction lives in mem2reg
// rather than in this builder. This file's own control-flow joins
// (ternary, short-circuit &&/||) still need phis, but since both
// predecessors are always known at the point the phi is created, no
// sealing/incomplete-phi bookkeeping is needed for them.
type Builder struct {
	fn      *Func
	current *Block

	scopes  []map[string]*Value // name -> FrameAddr slot, one map per lexical block
	slotTyp map[*Value]*types.Type

	labelBlocks   map[string]*Block
	definedLabels map[string]bool // labels actually bound by a LabelStmt, vs. merely referenced by goto

	breakStack   []*Block // nearest-enclosing loop-or-switch exit, innermost last
	loopContinue []*Block

	layouts   *types.LayoutTable
	strings   *ast.StringTable
	funcSigs  map[string]*types.Type // name -> Function type, for call resolution
	globals   map[string]*types.Type
	enumConst map[string]int64
}

// BuildProgram lowers every function definition in prog, in source order.
func BuildProgram(prog *ast.Program) (*Program, error) {
	b := &Builder{
		layouts:     prog.Layouts,
		strings:     prog.StringInterning,
		funcSigs:    make(map[string]*types.Type),
		globals:     make(map[string]*types.Type),
		labelBlocks: nil,
	}
	for _, d := range prog.Decls {
		if fd, ok := d.(*ast.FuncDecl); ok {
			params := make([]*types.Type, len(fd.Params))
			for i, p := range fd.Params {
				params[i] = p.Type
			}
			b.funcSigs[fd.Name] = &types.Type{Kind: types.Function, Ret: fd.Ret, Params: params, Variadic: fd.Variadic}
		}
		if gv, ok := d.(*ast.GlobalVarDecl); ok {
			b.globals[gv.Name] = gv.Type
		}
	}

	out := &Program{Layouts: prog.Layouts}
	for _, entry := range prog.StringInterning.Entries() {
		out.StringLiterals = append(out.StringLiterals, StringEntry{Label: entry.Label, Value: entry.Value})
	}
	for _, d := range prog.Decls {
		switch n := d.(type) {
		case *ast.GlobalVarDecl:
			out.Globals = append(out.Globals, &Global{Name: n.Name, Type: n.Type, Init: constInitOf(n.Init), IsStatic: n.IsStatic, IsExtern: n.IsExtern})
		case *ast.FuncDecl:
			if n.Body == nil {
				continue
			}
			fn, err := b.buildFunc(n)
			if err != nil {
				return nil, err
			}
			out.Funcs = append(out.Funcs, fn)
		}
	}
	return out, nil
}

func constInitOf(e ast.Expr) interface{} {
	switch n := e.(type) {
	case nil:
		return nil
	case *ast.IntLit:
		return n.Value
	case *ast.FloatLit:
		return n.Value
	case *ast.StringLit:
		return n.Value
	default:
		return nil
	}
}

func (b *Builder) buildFunc(fd *ast.FuncDecl) (fn *Func, err error) {
	defer func() {
		if r := recover(); r != nil {
			if be, ok := r.(buildError); ok {
				fn, err = nil, fmt.Errorf("lowering %s: %s", fd.Name, string(be))
				return
			}
			panic(r)
		}
	}()

	b.fn = NewFunc(fd.Name, b.layouts)
	b.fn.Ret = fd.Ret
	b.fn.Variadic = fd.Variadic
	b.fn.IsStatic = fd.IsStatic
	b.scopes = []map[string]*Value{make(map[string]*Value)}
	b.slotTyp = make(map[*Value]*types.Type)
	b.labelBlocks = make(map[string]*Block)
	b.definedLabels = make(map[string]bool)

	entry := b.fn.NewBlock(BlockReturn)
	entry.Hint = HintEntry
	b.fn.Entry = entry
	b.current = entry

	for i, p := range fd.Params {
		b.fn.ParamTypes = append(b.fn.ParamTypes, p.Type)
		paramVal := b.current.NewValue(OpParam, p.Type)
		paramVal.Sym = i
		slot := b.declareLocal(p.Name, p.Type)
		b.emitStore(slot, paramVal, p.Type, false)
	}

	b.buildBlock(fd.Body)

	if !b.isDead() {
		b.current.Kind = BlockReturn
	}
	b.resolveDanglingGotos()
	return b.fn, nil
}

type buildError string

func (b *Builder) fail(format string, args ...interface{}) {
	panic(buildError(fmt.Sprintf(format, args...)))
}

func (b *Builder) isDead() bool { return b.current == nil }

func (b *Builder) pushScope() { b.scopes = append(b.scopes, make(map[string]*Value)) }
func (b *Builder) popScope()  { b.scopes = b.scopes[:len(b.scopes)-1] }

func (b *Builder) declareLocal(name string, t *types.Type) *Value {
	slot := b.fn.Entry.NewValue(OpFrameAddr, types.PointerTo(t))
	slot.Sym = fmt.Sprintf("%s$%d", name, slot.ID)
	b.slotTyp[slot] = t
	b.scopes[len(b.scopes)-1][name] = slot
	return slot
}

func (b *Builder) lookupLocal(name string) (*Value, bool) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if v, ok := b.scopes[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// ---------------------------------------------------------------------
// Statements

func (b *Builder) buildBlock(blk *ast.Block) {
	b.pushScope()
	defer b.popScope()
	for _, s := range blk.Stmts {
		if b.isDead() {
			// Dead code after a terminator is simply not emitted, per
			// spec.md 4.4; still walk for labels since a forward goto
			// earlier in the function may target one inside this span.
			b.scanLabelsOnly(s)
			continue
		}
		b.buildStmt(s)
	}
}

// scanLabelsOnly registers label blocks found in unreachable code so a
// pending goto into dead code still resolves to a real (if unreachable)
// block instead of erroring.
func (b *Builder) scanLabelsOnly(s ast.Stmt) {
	switch n := s.(type) {
	case *ast.LabelStmt:
		b.labelBlockFor(n.Label)
		b.definedLabels[n.Label] = true
		b.scanLabelsOnly(n.Stmt)
	case *ast.Block:
		for _, s2 := range n.Stmts {
			b.scanLabelsOnly(s2)
		}
	case *ast.IfStmt:
		b.scanLabelsOnly(n.Then)
		if n.Else != nil {
			b.scanLabelsOnly(n.Else)
		}
	case *ast.WhileStmt:
		b.scanLabelsOnly(n.Body)
	case *ast.DoWhileStmt:
		b.scanLabelsOnly(n.Body)
	case *ast.ForStmt:
		b.scanLabelsOnly(n.Body)
	case *ast.SwitchStmt:
		for _, c := range n.Cases {
			for _, s2 := range c.Body {
				b.scanLabelsOnly(s2)
			}
		}
	}
}

func (b *Builder) labelBlockFor(name string) *Block {
	if blk, ok := b.labelBlocks[name]; ok {
		return blk
	}
	blk := b.fn.NewBlock(BlockGoto)
	b.labelBlocks[name] = blk
	return blk
}

// resolveDanglingGotos checks that every label block created on demand by
// a goto (labelBlockFor) was eventually bound by a matching LabelStmt;
// the edges themselves are wired directly at the goto site, so this only
// reports a goto to an undeclared label. No earlier stage checks labels.
func (b *Builder) resolveDanglingGotos() {
	for label := range b.labelBlocks {
		if !b.definedLabels[label] {
			b.fail("goto to undeclared label %q", label)
		}
	}
}

func (b *Builder) buildStmt(s ast.Stmt) {
	switch n := s.(type) {
	case *ast.Block:
		b.buildBlock(n)
	case *ast.ExprStmt:
		if n.X != nil {
			b.buildExpr(n.X)
		}
	case *ast.DeclStmt:
		for _, vd := range n.Decls {
			slot := b.declareLocal(vd.Name, vd.Type)
			if vd.Init != nil {
				b.buildInit(slot, vd.Type, vd.Init)
			}
		}
	case *ast.ReturnStmt:
		if n.Value == nil {
			b.current.Kind = BlockReturn
			b.current = nil
			return
		}
		v := b.buildExpr(n.Value)
		v = b.convert(v, n.Value, b.fn.Ret)
		blk := b.current
		blk.Kind = BlockReturn
		v.AddUseBlock(blk)
		b.current = nil
	case *ast.IfStmt:
		b.buildIf(n)
	case *ast.WhileStmt:
		b.buildLoop(nil, n.Cond, nil, n.Body)
	case *ast.DoWhileStmt:
		b.buildDoWhile(n)
	case *ast.ForStmt:
		b.buildLoop(n.Init, n.Cond, n.Post, n.Body)
	case *ast.SwitchStmt:
		b.buildSwitch(n)
	case *ast.BreakStmt:
		if len(b.breakStack) == 0 {
			b.fail("break outside loop/switch")
		}
		target := b.breakStack[len(b.breakStack)-1]
		b.current.WireTo(target)
		b.current = nil
	case *ast.ContinueStmt:
		if len(b.loopContinue) == 0 {
			b.fail("continue outside loop")
		}
		target := b.loopContinue[len(b.loopContinue)-1]
		b.current.WireTo(target)
		b.current = nil
	case *ast.GotoStmt:
		target := b.labelBlockFor(n.Label)
		b.current.WireTo(target)
		b.current = nil
	case *ast.LabelStmt:
		target := b.labelBlockFor(n.Label)
		b.definedLabels[n.Label] = true
		if b.current != nil {
			b.current.Kind = BlockGoto
			b.current.WireTo(target)
		}
		b.current = target
		b.buildStmt(n.Stmt)
	case *ast.InlineAsmStmt:
		// Modeled as an opaque call with no return value so the
		// scheduler/allocator see a call-like clobber barrier; codegen
		// (internal/codegen/x86) recognizes the $inline_asm sentinel and
		// emits the raw template instead of a call instruction.
		v := b.current.NewValue(OpCall, types.VoidType)
		v.Sym = "$inline_asm:" + n.Template
		for _, in := range n.Inputs {
			v.AddArg(b.buildExpr(in.Expr))
		}
	default:
		b.fail("unsupported statement %T", s)
	}
}

func (b *Builder) buildIf(n *ast.IfStmt) {
	cond := b.buildExpr(n.Cond)
	cond = b.truthy(cond, n.Cond)
	entry := b.current
	entry.Kind = BlockIf

	thenBlk := b.fn.NewBlock(BlockGoto)
	entry.WireTo(thenBlk)
	b.current = thenBlk
	b.buildStmt(n.Then)
	thenTail := b.current

	var elseTail *Block
	if n.Else != nil {
		elseBlk := b.fn.NewBlock(BlockGoto)
		entry.WireTo(elseBlk)
		b.current = elseBlk
		b.buildStmt(n.Else)
		elseTail = b.current
	}
	cond.AddUseBlock(entry)
	// entry.Succs is [thenBlk, elseBlk-or-merge] in that order, matching
	// codegen's branch-true-first convention for a conditional jump.
	merge := b.fn.NewBlock(BlockGoto)
	if thenTail != nil {
		thenTail.WireTo(merge)
	}
	if n.Else != nil {
		if elseTail != nil {
			elseTail.WireTo(merge)
		}
	} else {
		entry.WireTo(merge)
	}
	b.current = merge
	if len(merge.Preds) == 0 {
		merge.Kind = BlockDead
		b.current = nil
	}
}

func (b *Builder) buildDoWhile(n *ast.DoWhileStmt) {
	body := b.fn.NewBlock(BlockGoto)
	b.current.WireTo(body)
	b.current = body

	exit := b.fn.NewBlock(BlockGoto)
	b.breakStack = append(b.breakStack, exit)
	latch := b.fn.NewBlock(BlockIf)
	b.loopContinue = append(b.loopContinue, latch)

	b.buildStmt(n.Body)
	if !b.isDead() {
		b.current.WireTo(latch)
	}
	b.current = latch
	cond := b.buildExpr(n.Cond)
	cond = b.truthy(cond, n.Cond)
	cond.AddUseBlock(latch)
	latch.WireTo(body)
	latch.WireTo(exit)

	b.breakStack = b.breakStack[:len(b.breakStack)-1]
	b.loopContinue = b.loopContinue[:len(b.loopContinue)-1]
	b.current = exit
}

// buildLoop handles both `for` (init/cond/post all optional) and `while`
// (cond only), per spec.md 4.4/9's loop-header sealing discipline -
// here realized simply since variable phis are mem2reg's job, not the
// builder's: the header is created, the body lowered against it, and the
// back-edge wired after, exactly mirroring falcon's buildLoop shape.
func (b *Builder) buildLoop(init ast.Stmt, cond ast.Expr, post ast.Expr, body ast.Stmt) {
	b.pushScope()
	defer b.popScope()
	if init != nil {
		b.buildStmt(init)
	}
	header := b.fn.NewBlock(BlockIf)
	header.Hint = HintLoopHeader
	b.current.WireTo(header)
	b.current = header

	bodyBlk := b.fn.NewBlock(BlockGoto)
	exit := b.fn.NewBlock(BlockGoto)

	if cond != nil {
		cv := b.buildExpr(cond)
		cv = b.truthy(cv, cond)
		headerTail := b.current
		headerTail.Kind = BlockIf
		cv.AddUseBlock(headerTail)
		headerTail.WireTo(bodyBlk)
		headerTail.WireTo(exit)
	} else {
		b.current.WireTo(bodyBlk)
	}

	b.breakStack = append(b.breakStack, exit)
	latch := header
	b.current = bodyBlk
	if post != nil {
		// continue must still run `post`, so continue targets a small
		// latch block that evaluates post then jumps back to header.
		postBlk := b.fn.NewBlock(BlockGoto)
		latch = postBlk
	}
	b.loopContinue = append(b.loopContinue, latch)

	b.buildStmt(body)
	if !b.isDead() {
		b.current.WireTo(latch)
	}
	if post != nil {
		b.current = latch
		b.buildExpr(post)
		if !b.isDead() {
			b.current.WireTo(header)
		}
	}

	b.breakStack = b.breakStack[:len(b.breakStack)-1]
	b.loopContinue = b.loopContinue[:len(b.loopContinue)-1]
	b.current = exit
}

// buildSwitch lowers to a linear CondBr chain against each case constant
// with default as the final fallthrough destination, and case bodies
// wired to fall through into the next case's body absent an explicit
// break, per spec.md 4.4.
func (b *Builder) buildSwitch(n *ast.SwitchStmt) {
	tag := b.buildExpr(n.Tag)
	exit := b.fn.NewBlock(BlockGoto)
	b.breakStack = append(b.breakStack, exit)
	defer func() { b.breakStack = b.breakStack[:len(b.breakStack)-1] }()

	bodies := make([]*Block, len(n.Cases))
	for i := range n.Cases {
		bodies[i] = b.fn.NewBlock(BlockGoto)
	}

	testChain := b.current
	var defaultIdx = -1
	for i, c := range n.Cases {
		if c.Value == nil {
			defaultIdx = i
			continue
		}
		testChain.Kind = BlockIf
		cmp := testChain.NewValue(OpCmpEQ, types.IntType, tag, b.buildExpr(c.Value))
		next := b.fn.NewBlock(BlockGoto)
		cmp.AddUseBlock(testChain)
		testChain.WireTo(bodies[i])
		testChain.WireTo(next)
		testChain = next
	}
	if defaultIdx >= 0 {
		testChain.WireTo(bodies[defaultIdx])
	} else {
		testChain.WireTo(exit)
	}

	for i, c := range n.Cases {
		b.current = bodies[i]
		for _, s := range c.Body {
			if b.isDead() {
				b.scanLabelsOnly(s)
				continue
			}
			b.buildStmt(s)
		}
		if !b.isDead() {
			if i+1 < len(bodies) {
				b.current.WireTo(bodies[i+1])
			} else {
				b.current.WireTo(exit)
			}
		}
	}
	b.current = exit
}
