package interp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingImportsSkipsStdlib(t *testing.T) {
	src := `import (
	"fmt"
	"net/http"
	"encoding/json"
)
fmt.Println("hi")`
	assert.Empty(t, MissingImports(src, ""))
}

func TestMissingImportsFindsThirdParty(t *testing.T) {
	src := `import (
	"fmt"
	"github.com/fake/pkg/subdir"
	"gitlab.com/other/thing"
)
fmt.Println("hi")`
	got := MissingImports(src, t.TempDir())
	assert.Equal(t, []string{"github.com/fake/pkg", "gitlab.com/other/thing"}, got)
}

func TestMissingImportsDeduplicatesRoots(t *testing.T) {
	src := `import (
	"github.com/fake/pkg/a"
	"github.com/fake/pkg/b"
)
_ = 0`
	got := MissingImports(src, t.TempDir())
	assert.Equal(t, []string{"github.com/fake/pkg"}, got)
}

func TestMissingImportsSkipsInstalled(t *testing.T) {
	gopath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(gopath, "src", "github.com", "fake", "pkg"), 0o755))

	src := `import "github.com/fake/pkg/subdir"
_ = 0`
	assert.Empty(t, MissingImports(src, gopath))
}

func TestMissingImportsInvalidSource(t *testing.T) {
	assert.Nil(t, MissingImports("func (", t.TempDir()))
}

func TestImportRoot(t *testing.T) {
	cases := map[string]string{
		"github.com/fake/pkg/deep/sub":  "github.com/fake/pkg",
		"github.com/fake/pkg":           "github.com/fake/pkg",
		"gitlab.com/a/b/c":              "gitlab.com/a/b",
		"golang.org/x/sync/errgroup":    "golang.org/x/sync",
		"gopkg.in/yaml.v3":              "gopkg.in/yaml.v3",
		"google.golang.org/grpc/status": "google.golang.org/grpc",
		"k8s.io/client-go/kubernetes":   "k8s.io/client-go",
		"example.org/solo":              "example.org/solo",
	}
	for path, want := range cases {
		assert.Equal(t, want, importRoot(path), path)
	}
}

func TestRepoURL(t *testing.T) {
	assert.Equal(t, "https://go.googlesource.com/sync", repoURL("golang.org/x/sync"))
	assert.Equal(t, "https://github.com/go-yaml/yaml", repoURL("gopkg.in/yaml.v3"))
	assert.Equal(t, "https://github.com/fake/pkg", repoURL("github.com/fake/pkg"))
}
