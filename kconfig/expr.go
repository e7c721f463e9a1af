package kconfig

import (
	"fmt"
	"strconv"
)

// Tristate is the Kconfig value domain with ordering No < Module < Yes.
type Tristate int

const (
	No Tristate = iota
	Module
	Yes
)

func (t Tristate) String() string {
	switch t {
	case Module:
		return "m"
	case Yes:
		return "y"
	default:
		return "n"
	}
}

// ParseTristate maps the .config literals "n"/"m"/"y" to a Tristate.
func ParseTristate(s string) (Tristate, bool) {
	switch s {
	case "n":
		return No, true
	case "m":
		return Module, true
	case "y":
		return Yes, true
	}
	return No, false
}

func minTri(a, b Tristate) Tristate {
	if a < b {
		return a
	}
	return b
}

func maxTri(a, b Tristate) Tristate {
	if a > b {
		return a
	}
	return b
}

// Value is a resolved symbol value: a tristate for bool/tristate symbols,
// a raw literal for string/int/hex symbols.
type Value struct {
	Tri Tristate
	Raw string
}

func TriValue(t Tristate) Value {
	return Value{Tri: t}
}

func RawValue(s string) Value {
	return Value{Raw: s}
}

// Text returns the literal form used by comparison operators.
func (v Value) Text() string {
	if v.Raw != "" {
		return v.Raw
	}
	return v.Tri.String()
}

// Env supplies symbol values during expression evaluation.
type Env interface {
	SymbolValue(name string) Value
}

// Expr is a "depends on" / "select ... if" / "default ... if" expression.
// The node set is fixed by the Kconfig grammar: identifier, string literal,
// negation, and binary operators (&&, ||, comparisons).
type Expr interface {
	String() string
	// Eval computes the tristate value of the expression under env,
	// following Kconfig semantics: && is min, || is max, !x is y-x,
	// comparisons yield y or n.
	Eval(env Env) Tristate
	// Walk visits every symbol name referenced by the expression.
	Walk(fn func(name string))
}

// Ident references a symbol by name.
type Ident struct {
	Name string
}

func (e *Ident) String() string { return e.Name }

func (e *Ident) Eval(env Env) Tristate {
	return env.SymbolValue(e.Name).Tri
}

func (e *Ident) Walk(fn func(string)) { fn(e.Name) }

// Str is a quoted literal, only meaningful as a comparison operand.
type Str struct {
	Val string
}

func (e *Str) String() string { return fmt.Sprintf("%q", e.Val) }

// A bare string literal outside a comparison has no truth value.
func (e *Str) Eval(env Env) Tristate { return No }

func (e *Str) Walk(fn func(string)) {}

// Not negates its operand; in tristate logic !m stays m.
type Not struct {
	X Expr
}

func (e *Not) String() string { return fmt.Sprintf("!(%v)", e.X) }

func (e *Not) Eval(env Env) Tristate { return Yes - e.X.Eval(env) }

func (e *Not) Walk(fn func(string)) { e.X.Walk(fn) }

// BinOp enumerates the binary operators of the expression grammar.
type BinOp int

const (
	OpAnd BinOp = iota + 1
	OpOr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (op BinOp) String() string {
	switch op {
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Bin is a binary operation over two subexpressions.
type Bin struct {
	Op   BinOp
	L, R Expr
}

func (e *Bin) String() string {
	return fmt.Sprintf("(%v %v %v)", e.L, e.Op, e.R)
}

func (e *Bin) Eval(env Env) Tristate {
	switch e.Op {
	case OpAnd:
		return minTri(e.L.Eval(env), e.R.Eval(env))
	case OpOr:
		return maxTri(e.L.Eval(env), e.R.Eval(env))
	}

	l, r := operandText(e.L, env), operandText(e.R, env)
	var ok bool
	switch e.Op {
	case OpEq:
		ok = l == r
	case OpNe:
		ok = l != r
	case OpLt, OpLe, OpGt, OpGe:
		ok = ordered(e.Op, l, r)
	}
	if ok {
		return Yes
	}
	return No
}

func (e *Bin) Walk(fn func(string)) {
	e.L.Walk(fn)
	e.R.Walk(fn)
}

// operandText resolves a comparison operand to its literal text. Symbol
// operands compare by their resolved value, strings by their content.
func operandText(e Expr, env Env) string {
	switch x := e.(type) {
	case *Ident:
		return env.SymbolValue(x.Name).Text()
	case *Str:
		return x.Val
	default:
		return e.Eval(env).String()
	}
}

// ordered compares numerically when both operands parse as integers
// (decimal or hex), falling back to string ordering as kconfig does.
func ordered(op BinOp, l, r string) bool {
	var cmp int
	ln, lerr := strconv.ParseInt(l, 0, 64)
	rn, rerr := strconv.ParseInt(r, 0, 64)
	if lerr == nil && rerr == nil {
		switch {
		case ln < rn:
			cmp = -1
		case ln > rn:
			cmp = 1
		}
	} else {
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	}
	switch op {
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

// IsConstant reports whether an identifier is a constant symbol rather
// than a config reference: the tristate literals y/m/n and bare numbers.
func IsConstant(name string) bool {
	switch name {
	case "y", "m", "n":
		return true
	}
	_, err := strconv.ParseInt(name, 0, 64)
	return err == nil
}

// ConstantValue resolves a constant symbol name to its value.
func ConstantValue(name string) Value {
	if tri, ok := ParseTristate(name); ok {
		return TriValue(tri)
	}
	return RawValue(name)
}

// conjoin joins two optional expressions with &&, tolerating nil operands.
func conjoin(l, r Expr) Expr {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	return &Bin{Op: OpAnd, L: l, R: r}
}
