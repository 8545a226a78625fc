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

// Package token defines the flat token vocabulary the lexer produces and
// the parser consumes. Tokens carry literal content and a classification
// tag only - no source positions, matching the lexer's error-reporting
// style of approximate byte offsets rather than line/column tracking.
package token

// Kind classifies a Token. The zero value is invalid on purpose so a
// forgotten token initialization fails loudly.
type Kind int

const (
	Invalid Kind = iota

	EOF

	Ident
	IntLit
	FloatLit
	CharLit
	StringLit

	// Keywords - standard C
	KwAuto
	KwBreak
	KwCase
	KwChar
	KwConst
	KwContinue
	KwDefault
	KwDo
	KwDouble
	KwElse
	KwEnum
	KwExtern
	KwFloat
	KwFor
	KwGoto
	KwIf
	KwInline
	KwInt
	KwLong
	KwRegister
	KwRestrict
	KwReturn
	KwShort
	KwSigned
	KwSizeof
	KwStatic
	KwStruct
	KwSwitch
	KwTypedef
	KwUnion
	KwUnsigned
	KwVoid
	KwVolatile
	KwWhile

	// C99/C11
	KwBool
	KwComplex
	KwImaginary
	KwAlignas
	KwAlignof
	KwAtomic
	KwGeneric
	KwNoreturn
	KwStaticAssert
	KwThreadLocal

	// GCC spellings, all mapped down to one generic extension-keyword token
	// class except where they need their own grammar production.
	KwAttribute
	KwExtension
	KwAsm
	KwTypeof

	// Punctuation / operators
	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Semi
	Comma
	Dot
	Ellipsis
	Arrow

	Assign
	PlusAssign
	MinusAssign
	StarAssign
	SlashAssign
	PercentAssign
	AndAssign
	OrAssign
	XorAssign
	ShlAssign
	ShrAssign

	Plus
	Minus
	Star
	Slash
	Percent
	Amp
	Pipe
	Caret
	Tilde
	Bang
	Shl
	Shr

	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	AndAnd
	OrOr

	Inc
	Dec

	Question
	Colon

	// Width-suffix classification for an IntLit, packed alongside the token
	// rather than modeled as separate kinds.
)

// IntSuffix tags the trailing suffix on an integer constant.
type IntSuffix int

const (
	SuffixNone IntSuffix = iota
	SuffixU
	SuffixL
	SuffixUL
	SuffixLL
	SuffixULL
)

// Token is the lexer's sole output unit.
type Token struct {
	Kind Kind

	// Ident holds the spelling for Ident and keyword tokens (keywords keep
	// their spelling too, useful for diagnostics).
	Ident string

	IntValue   int64
	IntSuffix  IntSuffix
	FloatValue float64
	// StringValue holds decoded bytes for StringLit and CharLit (CharLit's
	// multi-character constants are pre-packed big-endian into IntValue
	// instead, per spec.md 4.1).
	StringValue string
}

var keywords = map[string]Kind{
	"auto":             KwAuto,
	"break":            KwBreak,
	"case":             KwCase,
	"char":             KwChar,
	"const":            KwConst,
	"continue":         KwContinue,
	"default":          KwDefault,
	"do":               KwDo,
	"double":           KwDouble,
	"else":             KwElse,
	"enum":             KwEnum,
	"extern":           KwExtern,
	"float":            KwFloat,
	"for":              KwFor,
	"goto":             KwGoto,
	"if":               KwIf,
	"inline":           KwInline,
	"int":              KwInt,
	"long":             KwLong,
	"register":         KwRegister,
	"restrict":         KwRestrict,
	"return":           KwReturn,
	"short":            KwShort,
	"signed":           KwSigned,
	"sizeof":           KwSizeof,
	"static":           KwStatic,
	"struct":           KwStruct,
	"switch":           KwSwitch,
	"typedef":          KwTypedef,
	"union":            KwUnion,
	"unsigned":         KwUnsigned,
	"void":             KwVoid,
	"volatile":         KwVolatile,
	"while":            KwWhile,
	"_Bool":            KwBool,
	"_Complex":         KwComplex,
	"_Imaginary":       KwImaginary,
	"_Alignas":         KwAlignas,
	"_Alignof":         KwAlignof,
	"_Atomic":          KwAtomic,
	"_Generic":         KwGeneric,
	"_Noreturn":        KwNoreturn,
	"_Static_assert":   KwStaticAssert,
	"_Thread_local":    KwThreadLocal,
	"__attribute__":    KwAttribute,
	"__attribute":      KwAttribute,
	"__extension__":    KwExtension,
	"__asm__":          KwAsm,
	"__asm":            KwAsm,
	"asm":              KwAsm,
	"__typeof__":       KwTypeof,
	"__typeof":         KwTypeof,
	"typeof":           KwTypeof,
	"__inline__":       KwInline,
	"__inline":         KwInline,
	"__const__":        KwConst,
	"__const":          KwConst,
	"__volatile__":     KwVolatile,
	"__signed__":       KwSigned,
	"__restrict__":     KwRestrict,
	"__restrict":       KwRestrict,
}

// LookupKeyword classifies an identifier spelling, returning (Invalid, false)
// when it isn't one of the 61 recognized keyword spellings; the lexer then
// emits an Ident. __builtin_va_arg is not a keyword: it lexes as an Ident
// and the parser's primary-expression production handles it specially.
func LookupKeyword(spelling string) (Kind, bool) {
	k, ok := keywords[spelling]
	return k, ok
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "?"
}

var kindNames = map[Kind]string{
	EOF: "EOF", Ident: "ident", IntLit: "int-literal", FloatLit: "float-literal",
	CharLit: "char-literal", StringLit: "string-literal",
	LParen: "(", RParen: ")", LBrace: "{", RBrace: "}",
	LBracket: "[", RBracket: "]", Semi: ";", Comma: ",", Dot: ".",
	Ellipsis: "...", Arrow: "->", Assign: "=", Plus: "+", Minus: "-",
	Star: "*", Slash: "/", Percent: "%", Amp: "&", Pipe: "|", Caret: "^",
	Tilde: "~", Bang: "!", Shl: "<<", Shr: ">>", Eq: "==", Ne: "!=",
	Lt: "<", Le: "<=", Gt: ">", Ge: ">=", AndAnd: "&&", OrOr: "||",
	Inc: "++", Dec: "--", Question: "?", Colon: ":",
}
