package interp

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/traefik/yaegi/stdlib"
)

// vanityImports maps import roots whose source does not live at the URL
// spelled by the import path. Best-effort, like any name-to-location
// translation: a wrong guess surfaces as installer output and the request
// proceeds.
var vanityImports = map[string]string{
	"golang.org/x/crypto":        "https://go.googlesource.com/crypto",
	"golang.org/x/exp":           "https://go.googlesource.com/exp",
	"golang.org/x/mod":           "https://go.googlesource.com/mod",
	"golang.org/x/net":           "https://go.googlesource.com/net",
	"golang.org/x/sync":          "https://go.googlesource.com/sync",
	"golang.org/x/sys":           "https://go.googlesource.com/sys",
	"golang.org/x/text":          "https://go.googlesource.com/text",
	"golang.org/x/time":          "https://go.googlesource.com/time",
	"google.golang.org/grpc":     "https://github.com/grpc/grpc-go",
	"google.golang.org/protobuf": "https://github.com/protocolbuffers/protobuf-go",
	"gopkg.in/yaml.v2":           "https://github.com/go-yaml/yaml",
	"gopkg.in/yaml.v3":           "https://github.com/go-yaml/yaml",
	"k8s.io/client-go":           "https://github.com/kubernetes/client-go",
}

// stdlibPaths is the set of import paths the embedded interpreter resolves
// natively, derived from its stdlib symbol table.
var stdlibPaths = func() map[string]bool {
	m := make(map[string]bool, len(stdlib.Symbols))
	for key := range stdlib.Symbols {
		if i := strings.LastIndex(key, "/"); i >= 0 {
			m[key[:i]] = true
		} else {
			m[key] = true
		}
	}
	return m
}()

// MissingImports statically discovers the import roots of source that are
// not resolvable in the environment rooted at gopath. Invalid source yields
// an empty set: inspection never pre-empts the execution error the user
// would otherwise see.
func MissingImports(source, gopath string) []string {
	sn, err := AnalyzeSnippet(source)
	if err != nil {
		return nil
	}

	roots := make(map[string]bool)
	for _, path := range sn.Imports {
		first := path
		if i := strings.Index(path, "/"); i >= 0 {
			first = path[:i]
		}
		// Paths without a dotted host are standard library or builtin.
		if !strings.Contains(first, ".") {
			continue
		}
		if stdlibPaths[path] {
			continue
		}
		root := importRoot(path)
		if present(gopath, path) || present(gopath, root) {
			continue
		}
		roots[root] = true
	}

	out := make([]string, 0, len(roots))
	for r := range roots {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// importRoot strips the package suffix off an import path, leaving the
// installable repository root: three segments for the common code hosts,
// two for gopkg.in style paths, the full path otherwise.
func importRoot(path string) string {
	parts := strings.Split(path, "/")
	switch parts[0] {
	case "github.com", "gitlab.com", "bitbucket.org", "golang.org":
		if len(parts) > 3 {
			return strings.Join(parts[:3], "/")
		}
	case "gopkg.in", "google.golang.org", "k8s.io", "go.uber.org":
		if len(parts) > 2 {
			return strings.Join(parts[:2], "/")
		}
	}
	return path
}

// present reports whether the package source already exists under the
// environment's src tree.
func present(gopath, path string) bool {
	if gopath == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(gopath, "src", filepath.FromSlash(path)))
	return err == nil && info.IsDir()
}

// repoURL resolves the clone location for an import root.
func repoURL(root string) string {
	if url, ok := vanityImports[root]; ok {
		return url
	}
	return "https://" + root
}
