package interp

import (
	"fmt"
	"go/parser"
	"go/scanner"
	"go/token"
	"strconv"
	"strings"
)

// Snippet is the decomposition of one source submission: its import paths,
// a leading statements block, and an optional trailing expression whose
// value becomes the request's RESULT.
type Snippet struct {
	Imports []string
	Exec    string
	Eval    string
}

// chunk is one top-level unit of a snippet, delimited by semicolons
// (explicit or inserted) at bracket depth zero.
type chunk struct {
	start, end int
	firstTok   token.Token
}

// AnalyzeSnippet splits source into Snippet parts. It returns an error for
// source that is not syntactically valid; callers surface that as a user
// code error without attempting installs or execution.
func AnalyzeSnippet(source string) (Snippet, error) {
	chunks := splitChunks(source)
	if len(chunks) == 0 {
		return Snippet{}, nil
	}

	var sn Snippet
	evalStart := -1
	for i, c := range chunks {
		text := source[c.start:c.end]
		switch {
		case c.firstTok == token.IMPORT:
			paths, err := parseImports(text)
			if err != nil {
				return Snippet{}, err
			}
			sn.Imports = append(sn.Imports, paths...)
		case i == len(chunks)-1 && isExpression(text):
			evalStart = c.start
		default:
			if err := checkChunk(text); err != nil {
				return Snippet{}, err
			}
		}
	}

	if evalStart >= 0 {
		sn.Exec = strings.TrimSpace(source[:evalStart])
		sn.Eval = strings.TrimSpace(source[evalStart:])
	} else {
		sn.Exec = strings.TrimSpace(source)
	}
	return sn, nil
}

// splitChunks tokenizes source and splits it on depth-zero semicolons,
// including the ones the scanner inserts at line ends. Comments never form
// chunks of their own.
func splitChunks(source string) []chunk {
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(source))
	var s scanner.Scanner
	s.Init(file, []byte(source), func(token.Position, string) {}, 0)

	var (
		chunks []chunk
		depth  int
		start  = -1
		first  token.Token
		last   int
	)
	for {
		pos, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}
		off := file.Offset(pos)
		switch tok {
		case token.LPAREN, token.LBRACK, token.LBRACE:
			depth++
		case token.RPAREN, token.RBRACK, token.RBRACE:
			depth--
		case token.SEMICOLON:
			if depth <= 0 {
				if start >= 0 {
					chunks = append(chunks, chunk{start: start, end: off, firstTok: first})
					start = -1
				}
				continue
			}
		}
		if start < 0 {
			start = off
			first = tok
		}
		end := off + len(lit)
		if lit == "" {
			end = off + len(tok.String())
		}
		last = end
	}
	if start >= 0 {
		chunks = append(chunks, chunk{start: start, end: last, firstTok: first})
	}
	return chunks
}

// parseImports extracts the quoted paths of one import declaration.
func parseImports(decl string) ([]string, error) {
	f, err := parser.ParseFile(token.NewFileSet(), "", "package p\n"+decl, 0)
	if err != nil {
		return nil, fmt.Errorf("op=interp.parseImports: %w", err)
	}
	paths := make([]string, 0, len(f.Imports))
	for _, spec := range f.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return nil, fmt.Errorf("op=interp.parseImports %s: %w", spec.Path.Value, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// isExpression reports whether text parses as a single expression. Named
// function declarations and statements do not.
func isExpression(text string) bool {
	_, err := parser.ParseExpr(text)
	return err == nil
}

// checkChunk verifies that text parses either as a top-level declaration
// or as a statement inside a function body.
func checkChunk(text string) error {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "", "package p\n"+text, 0); err == nil {
		return nil
	}
	_, err := parser.ParseFile(fset, "", "package p\nfunc _() {\n"+text+"\n}", 0)
	if err != nil {
		return fmt.Errorf("op=interp.checkChunk: %w", err)
	}
	return nil
}
