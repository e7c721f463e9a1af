package kconfig

import (
	"fmt"
	"strings"
)

// scanner is a line-oriented tokenizer for Kconfig source. It exposes
// try/must consumption primitives so the parser reads almost like the
// grammar. Errors are recorded per line, not thrown: the parser skips the
// offending line and keeps going.
type scanner struct {
	file    string
	lines   []string
	lineNum int    // 1-based number of the current line
	text    string // current line with leading whitespace trimmed
	indent  int    // indentation of the current line, tabs count as 8
	lineErr error
}

func newScanner(data []byte, file string) *scanner {
	raw := strings.Split(string(data), "\n")
	// Join backslash-continued lines, keeping line numbering stable by
	// padding with empty lines.
	lines := make([]string, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		line := raw[i]
		pad := 0
		for strings.HasSuffix(line, `\`) && i+1 < len(raw) {
			line = line[:len(line)-1] + " " + strings.TrimSpace(raw[i+1])
			i++
			pad++
		}
		lines = append(lines, line)
		for ; pad > 0; pad-- {
			lines = append(lines, "")
		}
	}
	return &scanner{file: file, lines: lines}
}

// nextLine advances to the next line, returning false at end of input.
func (s *scanner) nextLine() bool {
	if s.lineNum >= len(s.lines) {
		return false
	}
	line := s.lines[s.lineNum]
	s.lineNum++
	s.indent = 0
	for _, c := range line {
		if c == ' ' {
			s.indent++
		} else if c == '\t' {
			s.indent += 8
		} else {
			break
		}
	}
	s.text = strings.TrimSpace(line)
	s.lineErr = nil
	return true
}

func (s *scanner) eol() bool {
	return s.text == "" || strings.HasPrefix(s.text, "#")
}

func (s *scanner) skipSpace() {
	s.text = strings.TrimLeft(s.text, " \t")
}

// Ident consumes a symbol or keyword token.
func (s *scanner) Ident() string {
	s.skipSpace()
	i := 0
	for i < len(s.text) && isIdentChar(s.text[i]) {
		i++
	}
	if i == 0 {
		s.failf("expected identifier")
		return ""
	}
	tok := s.text[:i]
	s.text = s.text[i:]
	return tok
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '-'
}

// TryConsume consumes tok if it is next on the line.
func (s *scanner) TryConsume(tok string) bool {
	s.skipSpace()
	if !strings.HasPrefix(s.text, tok) {
		return false
	}
	// Do not split a longer operator ("<" must not match "<=") or eat
	// the start of an identifier.
	rest := s.text[len(tok):]
	if tok == "<" && strings.HasPrefix(rest, "=") {
		return false
	}
	if tok == ">" && strings.HasPrefix(rest, "=") {
		return false
	}
	if tok == "=" && strings.HasPrefix(s.text, "==") {
		return false
	}
	if isIdentChar(tok[len(tok)-1]) && rest != "" && isIdentChar(rest[0]) {
		return false
	}
	s.text = rest
	return true
}

func (s *scanner) MustConsume(tok string) {
	if !s.TryConsume(tok) {
		s.failf("expected %q", tok)
	}
}

// TryQuotedString consumes a single- or double-quoted string.
func (s *scanner) TryQuotedString() (string, bool) {
	s.skipSpace()
	if s.text == "" || (s.text[0] != '"' && s.text[0] != '\'') {
		return "", false
	}
	quote := s.text[0]
	var b strings.Builder
	for i := 1; i < len(s.text); i++ {
		c := s.text[i]
		if c == '\\' && i+1 < len(s.text) {
			i++
			b.WriteByte(s.text[i])
			continue
		}
		if c == quote {
			s.text = s.text[i+1:]
			return b.String(), true
		}
		b.WriteByte(c)
	}
	s.failf("unterminated string")
	return "", false
}

func (s *scanner) QuotedString() string {
	str, ok := s.TryQuotedString()
	if !ok {
		s.failf("expected quoted string")
	}
	return str
}

// ConsumeLine swallows the rest of the current line.
func (s *scanner) ConsumeLine() string {
	rest := strings.TrimSpace(s.text)
	s.text = ""
	return rest
}

func (s *scanner) failf(format string, args ...interface{}) {
	if s.lineErr == nil {
		s.lineErr = fmt.Errorf("%s:%d: %s", s.file, s.lineNum, fmt.Sprintf(format, args...))
	}
	s.text = ""
}
