package kconfig

// Recursive-descent expression parsing with the precedence levels of the
// kconfig grammar: || binds weaker than &&, which binds weaker than the
// comparison operators. Comparisons are treated as left-associative.

func (s *scanner) parseExpr() Expr {
	ex := s.parseAnd()
	for s.TryConsume("||") {
		ex = &Bin{Op: OpOr, L: ex, R: s.parseAnd()}
	}
	return ex
}

func (s *scanner) parseAnd() Expr {
	ex := s.parseCmp()
	for s.TryConsume("&&") {
		ex = &Bin{Op: OpAnd, L: ex, R: s.parseCmp()}
	}
	return ex
}

func (s *scanner) parseCmp() Expr {
	ex := s.parseTerm()
	for {
		var op BinOp
		switch {
		case s.TryConsume("!="):
			op = OpNe
		case s.TryConsume("="):
			op = OpEq
		case s.TryConsume("<="):
			op = OpLe
		case s.TryConsume(">="):
			op = OpGe
		case s.TryConsume("<"):
			op = OpLt
		case s.TryConsume(">"):
			op = OpGt
		default:
			return ex
		}
		ex = &Bin{Op: op, L: ex, R: s.parseTerm()}
	}
}

func (s *scanner) parseTerm() Expr {
	if s.TryConsume("!") {
		return &Not{X: s.parseTerm()}
	}
	if s.TryConsume("(") {
		ex := s.parseExpr()
		s.MustConsume(")")
		return ex
	}
	if str, ok := s.TryQuotedString(); ok {
		return &Str{Val: str}
	}
	if s.TryConsume("$") {
		// Macro expansion inside an expression; its value is unknowable
		// statically, so it contributes nothing.
		return &Str{Val: "$" + s.ConsumeLine()}
	}
	return &Ident{Name: s.Ident()}
}
