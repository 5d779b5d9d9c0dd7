// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindDynamicImport(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int
	}{
		{"plain call", "import('./a.js')", 0},
		{"spaced", "const m = await import ('x');", 16},
		{"comment before paren", "import /* why */ ('x')", 0},
		{"in template substitution", "`${import('x')}`", 3},
		{"nested substitution", "`a${ {b: `${import('y')}`} }`", 12},
		{"after template", "`text` + import('x')", 9},
		{"no import", "const a = 1;", -1},
		{"member call", "loader.import('x')", -1},
		{"identifier prefix", "reimport('x')", -1},
		{"identifier suffix", "import_('x')", -1},
		{"static import name", "const imported = 1; imported('x')", -1},
		{"string literal", "'import(\"x\")'", -1},
		{"double quoted", `"import('x')"`, -1},
		{"line comment", "// import('x')\nvar a;", -1},
		{"block comment", "/* import('x') */", -1},
		{"template text", "`import('x')`", -1},
		{"escaped quote", `'it\'s import("x")'`, -1},
		{"import meta", "import.meta", -1},
		{"regexp with import text", `/import (a)/.test("import a")`, -1},
		{"quote in regexp", `var r = /'/; import("x")`, 13},
		{"slash in class", "var r = /[/']/; import('x')", 16},
		{"regexp after keyword", "return /'/.test(s) || import('x')", 22},
		{"division", `var q = a / 2, s = "/"; import('x')`, 24},
		{"division after call", "f(x) / 2 / import('x')", 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, findDynamicImport(tt.src))
		})
	}
}

func TestCheckDynamicImport(t *testing.T) {
	require.NoError(t, checkDynamicImport("ok.js", "var x = 'import(1)';"))

	err := checkDynamicImport("mod.js", "var a = 1;\n  import('./b.js')")
	require.ErrorIs(t, err, ErrCompile)
	require.EqualError(t, err, "CompileError: SyntaxError: dynamic import is not supported at mod.js:2:3")
}

func TestCheckDynamicImport_RegexpLiterals(t *testing.T) {
	require.NoError(t, checkDynamicImport("re.js", `/import (a)/.test("import a")`))
	require.NoError(t, checkDynamicImport("re.js", "var ok = /import\\(/.test(src);"))

	err := checkDynamicImport("re.js", `var r = /'/; import("x")`)
	require.ErrorIs(t, err, ErrCompile)
	require.EqualError(t, err, "CompileError: SyntaxError: dynamic import is not supported at re.js:1:14")
}

func TestCheckDynamicImport_ParserFallback(t *testing.T) {
	// Plain syntax errors are left to the engine.
	require.NoError(t, checkDynamicImport("bad.js", "var = ;"))

	// The parser stops before reaching the import, the scan still finds it.
	err := checkDynamicImport("bad.js", "var = ;\nimport('x')")
	require.EqualError(t, err, "CompileError: SyntaxError: dynamic import is not supported at bad.js:2:1")

	// Static import syntax is not a dynamic import.
	require.NoError(t, checkDynamicImport("static.js", "import x from 'y'"))
}

func TestLineOffset(t *testing.T) {
	src := "a\r\nb\rc\u2028d\ne"
	require.Equal(t, 0, lineOffset(src, 1))
	require.Equal(t, 3, lineOffset(src, 2))
	require.Equal(t, 5, lineOffset(src, 3))
	require.Equal(t, 9, lineOffset(src, 4))
	require.Equal(t, 11, lineOffset(src, 5))
	require.Equal(t, -1, lineOffset(src, 6))
}

func TestLineCol(t *testing.T) {
	line, col := lineCol("ab\ncd\nef", 7)
	require.Equal(t, 3, line)
	require.Equal(t, 2, col)

	line, col = lineCol("", 0)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)
}
