package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeSnippetEmpty(t *testing.T) {
	sn, err := AnalyzeSnippet("")
	require.NoError(t, err)
	assert.Empty(t, sn.Imports)
	assert.Empty(t, sn.Exec)
	assert.Empty(t, sn.Eval)
}

func TestAnalyzeSnippetBareExpression(t *testing.T) {
	sn, err := AnalyzeSnippet("1 + 2")
	require.NoError(t, err)
	assert.Empty(t, sn.Exec)
	assert.Equal(t, "1 + 2", sn.Eval)
}

func TestAnalyzeSnippetImports(t *testing.T) {
	src := `import "fmt"
import (
	"strings"
	"github.com/fake/pkg"
)
fmt.Println(strings.ToUpper("hi"))`

	sn, err := AnalyzeSnippet(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"fmt", "strings", "github.com/fake/pkg"}, sn.Imports)
	assert.Equal(t, `fmt.Println(strings.ToUpper("hi"))`, sn.Eval)
}

func TestAnalyzeSnippetMixed(t *testing.T) {
	src := `func double(x int) int {
	return x * 2
}
y := double(21)
y`

	sn, err := AnalyzeSnippet(src)
	require.NoError(t, err)
	assert.Empty(t, sn.Imports)
	assert.Contains(t, sn.Exec, "func double")
	assert.Contains(t, sn.Exec, "y := double(21)")
	assert.Equal(t, "y", sn.Eval)
}

func TestAnalyzeSnippetStatementsOnly(t *testing.T) {
	src := `x := 1
x++`
	sn, err := AnalyzeSnippet(src)
	require.NoError(t, err)
	assert.Empty(t, sn.Eval)
	assert.Equal(t, src, sn.Exec)
}

func TestAnalyzeSnippetTrailingCall(t *testing.T) {
	// A call on the last line is an expression even when earlier lines
	// are declarations.
	src := `msg := "hello"
len(msg)`
	sn, err := AnalyzeSnippet(src)
	require.NoError(t, err)
	assert.Equal(t, `msg := "hello"`, sn.Exec)
	assert.Equal(t, "len(msg)", sn.Eval)
}

func TestAnalyzeSnippetMultilineLiteral(t *testing.T) {
	// Semicolons inserted inside a bracketed literal never split chunks.
	src := `xs := []int{
	1,
	2,
}
xs`
	sn, err := AnalyzeSnippet(src)
	require.NoError(t, err)
	assert.Contains(t, sn.Exec, "xs := []int{")
	assert.Equal(t, "xs", sn.Eval)
}

func TestAnalyzeSnippetInvalid(t *testing.T) {
	_, err := AnalyzeSnippet("func (")
	assert.Error(t, err)

	_, err = AnalyzeSnippet("x := := 1")
	assert.Error(t, err)
}
