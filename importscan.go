// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja/parser"
)

// checkDynamicImport rejects sources containing a dynamic import expression;
// the host has no module loader to resolve it.
func checkDynamicImport(name, src string) error {
	line, col, found := parseDynamicImport(name, src)
	if !found {
		return nil
	}
	return &EvalError{
		Kind:    CompileError,
		Message: fmt.Sprintf("SyntaxError: dynamic import is not supported at %s:%d:%d", name, line, col),
	}
}

// parseDynamicImport locates a dynamic import with the goja parser. Its grammar
// has no import expression, so a source it accepts has none, and an import(...)
// fails as an unexpected reserved word at the keyword. When the parser stops
// at anything else, syntax it does not know or a plain syntax error, the
// lexical scan decides.
func parseDynamicImport(name, src string) (line, col int, found bool) {
	_, err := parser.ParseFile(nil, name, src, 0, parser.WithDisableSourceMaps)
	if err == nil {
		return 0, 0, false
	}
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		pos := list[0].Position
		if off := lineOffset(src, pos.Line); off >= 0 && isImportCall(src, off+pos.Column-1) {
			return pos.Line, pos.Column, true
		}
	}
	off := findDynamicImport(src)
	if off < 0 {
		return 0, 0, false
	}
	line, col = lineCol(src, off)
	return line, col, true
}

// lineOffset returns the byte offset where the 1-based line starts, using the
// same line terminators as the parser, or -1.
func lineOffset(src string, line int) int {
	off := 0
	for l := 1; l < line; l++ {
		i := strings.IndexAny(src[off:], "\n\r\u2028\u2029")
		if i < 0 {
			return -1
		}
		off += i
		switch {
		case strings.HasPrefix(src[off:], "\r\n"):
			off += 2
		case src[off] == '\n' || src[off] == '\r':
			off++
		default:
			off += len("\u2028")
		}
	}
	return off
}

func isImportCall(src string, i int) bool {
	if i < 0 || i > len(src) || !strings.HasPrefix(src[i:], "import") {
		return false
	}
	j := i + len("import")
	if j < len(src) && isIdentPart(src[j]) {
		return false
	}
	j = skipSpace(src, j)
	return j < len(src) && src[j] == '('
}

// regexKeywords may be directly followed by a regular expression literal.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

// findDynamicImport returns the byte offset of the first import(...) expression
// in src, or -1. String literals, comments, template text and regular
// expression literals are skipped. A slash starts a regular expression unless
// it follows an operand: an identifier other than regexKeywords, a number, a
// closing paren or bracket, or a string or template end.
func findDynamicImport(src string) int {
	var (
		n          = len(src)
		depth      int   // open braces in the current code section
		subst      []int // brace depth at each open template substitution
		inTemplate bool
		prev       byte   // last significant code byte
		word       string // identifier ending at prev, if any
	)
	for i := 0; i < n; {
		c := src[i]

		if inTemplate {
			switch {
			case c == '\\':
				i += 2
			case c == '`':
				inTemplate = false
				prev, word = c, ""
				i++
			case c == '$' && i+1 < n && src[i+1] == '{':
				subst = append(subst, depth)
				depth = 0
				inTemplate = false
				prev, word = '{', ""
				i += 2
			default:
				i++
			}
			continue
		}

		switch {
		case c == '/' && i+1 < n && (src[i+1] == '/' || src[i+1] == '*'):
			i = skipComment(src, i)
		case c == '/' && regexAllowed(prev, word):
			i = skipRegexp(src, i)
			prev, word = '/', ""
		case c == '\'' || c == '"':
			i = skipString(src, i)
			prev, word = c, ""
		case c == '`':
			inTemplate = true
			i++
		case c == '{':
			depth++
			prev, word = c, ""
			i++
		case c == '}':
			if depth == 0 && len(subst) > 0 {
				depth = subst[len(subst)-1]
				subst = subst[:len(subst)-1]
				inTemplate = true
			} else if depth > 0 {
				depth--
			}
			prev, word = c, ""
			i++
		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(src[i]) {
				i++
			}
			if src[start:i] == "import" && prev != '.' {
				if j := skipSpace(src, i); j < n && src[j] == '(' {
					return start
				}
			}
			prev, word = src[i-1], src[start:i]
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		default:
			prev, word = c, ""
			i++
		}
	}
	return -1
}

func regexAllowed(prev byte, word string) bool {
	switch {
	case prev == 0:
		return true
	case word != "":
		return regexKeywords[word]
	case prev == ')' || prev == ']' || prev == '\'' || prev == '"' || prev == '`':
		return false
	default:
		return !isIdentPart(prev)
	}
}

// skipRegexp skips a regular expression literal and its flags. A slash inside
// a character class does not end it.
func skipRegexp(src string, i int) int {
	n := len(src)
	inClass := false
	for i++; i < n; i++ {
		switch src[i] {
		case '\\':
			i++
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '\n':
			return i
		case '/':
			if !inClass {
				for i++; i < n && isIdentPart(src[i]); i++ {
				}
				return i
			}
		}
	}
	return n
}

func skipComment(src string, i int) int {
	n := len(src)
	if src[i+1] == '/' {
		for i < n && src[i] != '\n' {
			i++
		}
		return i
	}
	for i += 2; i+1 < n; i++ {
		if src[i] == '*' && src[i+1] == '/' {
			return i + 2
		}
	}
	return n
}

func skipString(src string, i int) int {
	quote := src[i]
	for i++; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote, '\n':
			return i + 1
		}
	}
	return len(src)
}

// skipSpace skips whitespace and comments.
func skipSpace(src string, i int) int {
	for i < len(src) {
		switch c := src[i]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '/' && i+1 < len(src) && (src[i+1] == '/' || src[i+1] == '*'):
			i = skipComment(src, i)
		default:
			return i
		}
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func lineCol(src string, pos int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < pos && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
