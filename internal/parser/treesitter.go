package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// tsParser extracts symbols from languages parsed via tree-sitter grammars.
// Each instance is single-use per Parse call internally; the sitter.Parser is
// not shared across goroutines.
type tsParser struct {
	lang     types.Language
	language *sitter.Language
	query    string
}

// Capture query per language. Captures use common names so extraction below
// stays language-independent.
const (
	pythonQuery = `
		(function_definition) @func
		(class_definition) @class
		(call) @call
	`
	javascriptQuery = `
		(function_declaration) @func
		(class_declaration) @class
		(method_definition) @method
		(call_expression) @call
	`
)

func newTreeSitterParser(lang types.Language) *tsParser {
	switch lang {
	case types.LangPython:
		return &tsParser{lang: lang, language: python.GetLanguage(), query: pythonQuery}
	case types.LangJavaScript:
		return &tsParser{lang: lang, language: javascript.GetLanguage(), query: javascriptQuery}
	default:
		panic(fmt.Sprintf("no tree-sitter grammar for %s", lang))
	}
}

func (p *tsParser) Language() types.Language {
	return p.lang
}

// Parse extracts symbols and call references from src
func (p *tsParser) Parse(ctx context.Context, path string, src []byte) (*types.ParseResult, error) {
	result := &types.ParseResult{Language: p.lang}

	parser := sitter.NewParser()
	parser.SetLanguage(p.language)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed for %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		// Malformed regions are skipped by the query below; record the gap
		// so the caller knows extraction is partial.
		result.AddGap(path, int(root.StartPoint().Row)+1, 0, "source contains syntax errors, extraction is partial")
	}

	q, err := sitter.NewQuery([]byte(p.query), p.language)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction query for %s: %w", p.lang, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "func", "method":
				p.extractCallable(result, path, src, c.Node)
			case "class":
				p.extractClass(result, path, src, c.Node)
			case "call":
				p.extractCall(result, path, src, c.Node)
			}
		}
	}

	return result, nil
}

func (p *tsParser) extractCallable(result *types.ParseResult, path string, src []byte, node *sitter.Node) {
	name := fieldContent(node, "name", src)
	if name == "" {
		return
	}

	kind := types.KindFunction
	if node.Type() == "method_definition" || insideClass(node) {
		kind = types.KindMethod
	}

	result.Symbols = append(result.Symbols, types.Symbol{
		Name:       name,
		Kind:       kind,
		FilePath:   path,
		Span:       spanOfNode(node),
		Signature:  firstLine(node.Content(src)),
		Doc:        p.docstring(node, src),
		Language:   p.lang,
		Visibility: visibilityOf(p.lang, name),
	})
}

func (p *tsParser) extractClass(result *types.ParseResult, path string, src []byte, node *sitter.Node) {
	name := fieldContent(node, "name", src)
	if name == "" {
		return
	}

	result.Symbols = append(result.Symbols, types.Symbol{
		Name:       name,
		Kind:       types.KindClass,
		FilePath:   path,
		Span:       spanOfNode(node),
		Signature:  firstLine(node.Content(src)),
		Doc:        p.docstring(node, src),
		Language:   p.lang,
		Visibility: visibilityOf(p.lang, name),
	})

	for _, base := range p.baseClasses(node, src) {
		result.Relationships = append(result.Relationships, types.RelationshipRef{
			FromName: name,
			ToName:   base,
			Kind:     types.RelExtends,
			FilePath: path,
			Line:     int(node.StartPoint().Row) + 1,
		})
	}
}

func (p *tsParser) extractCall(result *types.ParseResult, path string, src []byte, node *sitter.Node) {
	caller := enclosingCallableName(node, src)
	if caller == "" {
		return // module-level call, no owning symbol
	}

	callee := calleeOfCall(node, src)
	if callee == "" {
		return
	}

	result.Relationships = append(result.Relationships, types.RelationshipRef{
		FromName: caller,
		ToName:   callee,
		Kind:     types.RelCalls,
		FilePath: path,
		Line:     int(node.StartPoint().Row) + 1,
	})
}

// baseClasses returns the names a class extends
func (p *tsParser) baseClasses(node *sitter.Node, src []byte) []string {
	var bases []string
	switch p.lang {
	case types.LangPython:
		if supers := node.ChildByFieldName("superclasses"); supers != nil {
			for i := 0; i < int(supers.NamedChildCount()); i++ {
				child := supers.NamedChild(i)
				if child.Type() == "identifier" {
					bases = append(bases, child.Content(src))
				}
			}
		}
	case types.LangJavaScript:
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "class_heritage" && child.NamedChildCount() > 0 {
				bases = append(bases, child.NamedChild(0).Content(src))
			}
		}
	}
	return bases
}

// docstring extracts a Python docstring; other languages return empty
func (p *tsParser) docstring(node *sitter.Node, src []byte) string {
	if p.lang != types.LangPython {
		return ""
	}
	body := node.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return strings.Trim(str.Content(src), `"'`)
}

// enclosingCallableName walks up to the nearest named function or class
func enclosingCallableName(node *sitter.Node, src []byte) string {
	for n := node.Parent(); n != nil; n = n.Parent() {
		switch n.Type() {
		case "function_definition", "function_declaration", "method_definition":
			return fieldContent(n, "name", src)
		}
	}
	return ""
}

// calleeOfCall resolves the called name from a call node
func calleeOfCall(node *sitter.Node, src []byte) string {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(src)
	case "attribute", "member_expression":
		// a.b.c() resolves to the final attribute name
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			return attr.Content(src)
		}
		if prop := fn.ChildByFieldName("property"); prop != nil {
			return prop.Content(src)
		}
	}
	return ""
}

func insideClass(node *sitter.Node) bool {
	for n := node.Parent(); n != nil; n = n.Parent() {
		switch n.Type() {
		case "class_definition", "class_declaration", "class_body":
			return true
		case "function_definition", "function_declaration":
			return false
		}
	}
	return false
}

func fieldContent(node *sitter.Node, field string, src []byte) string {
	child := node.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return child.Content(src)
}

func spanOfNode(node *sitter.Node) types.Span {
	return types.Span{
		StartByte: node.StartByte(),
		EndByte:   node.EndByte(),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(strings.TrimSpace(s), "{:")
}
