package parser

import (
	"context"
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/token"
	"strings"

	"github.com/dshills/codegraph-mcp/pkg/types"
)

// goParser handles AST-based parsing of Go source files
type goParser struct{}

func newGoParser() *goParser {
	return &goParser{}
}

func (p *goParser) Language() types.Language {
	return types.LangGo
}

// Parse parses Go source and extracts symbols and relationship references
func (p *goParser) Parse(_ context.Context, path string, src []byte) (*types.ParseResult, error) {
	result := &types.ParseResult{Language: types.LangGo}

	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, path, src, goparser.ParseComments)
	if err != nil {
		// Syntax errors are non-fatal - record the gap and continue with
		// whatever partial AST the parser produced.
		result.AddGap(path, 0, 0, fmt.Sprintf("syntax error: %v", err))
	}
	if file == nil {
		return result, nil
	}

	e := &goExtractor{
		fset:   fset,
		path:   path,
		result: result,
	}
	ast.Inspect(file, e.visit)

	return result, nil
}

// goExtractor is a visitor for AST traversal that extracts symbols
type goExtractor struct {
	fset   *token.FileSet
	path   string
	result *types.ParseResult
}

func (e *goExtractor) visit(node ast.Node) bool {
	if node == nil {
		return false
	}

	switch n := node.(type) {
	case *ast.FuncDecl:
		e.extractFunction(n)
		return false // call references handled inside extractFunction
	case *ast.GenDecl:
		e.extractGenDecl(n)
	}

	return true
}

// extractFunction extracts function and method declarations plus the call
// references made from their bodies
func (e *goExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	name := funcDecl.Name.Name
	sym := types.Symbol{
		Name:       name,
		FilePath:   e.path,
		Doc:        docText(funcDecl.Doc),
		Span:       e.spanOf(funcDecl.Pos(), funcDecl.End()),
		Language:   types.LangGo,
		Visibility: visibilityOf(types.LangGo, name),
	}

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sym.Kind = types.KindMethod
	} else {
		sym.Kind = types.KindFunction
	}

	sym.Signature = e.functionSignature(funcDecl)
	e.result.Symbols = append(e.result.Symbols, sym)

	if funcDecl.Body != nil {
		e.extractCalls(name, funcDecl.Body)
	}
}

// extractCalls records a calls-reference for each call expression in body
func (e *goExtractor) extractCalls(caller string, body *ast.BlockStmt) {
	seen := make(map[string]bool)
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		callee := calleeName(call.Fun)
		if callee == "" || seen[callee] {
			return true
		}
		seen[callee] = true
		e.result.Relationships = append(e.result.Relationships, types.RelationshipRef{
			FromName: caller,
			ToName:   callee,
			Kind:     types.RelCalls,
			FilePath: e.path,
			Line:     e.fset.Position(call.Pos()).Line,
		})
		return true
	})
}

// calleeName resolves the called identifier from a call expression target
func calleeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return t.Sel.Name
	}
	return ""
}

// extractGenDecl extracts type, const, and var declarations
func (e *goExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(s, genDecl.Doc)
		case *ast.ValueSpec:
			e.extractValueSpec(s, genDecl.Doc, genDecl.Tok)
		}
	}
}

// extractTypeSpec extracts struct, interface, and type alias declarations
func (e *goExtractor) extractTypeSpec(typeSpec *ast.TypeSpec, doc *ast.CommentGroup) {
	name := typeSpec.Name.Name
	sym := types.Symbol{
		Name:       name,
		FilePath:   e.path,
		Doc:        docText(doc),
		Span:       e.spanOf(typeSpec.Pos(), typeSpec.End()),
		Language:   types.LangGo,
		Visibility: visibilityOf(types.LangGo, name),
	}

	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		sym.Kind = types.KindStruct
		fieldCount := 0
		if t.Fields != nil {
			fieldCount = t.Fields.NumFields()
		}
		sym.Signature = fmt.Sprintf("type %s struct { ... } // %d fields", name, fieldCount)
		e.extractEmbedded(name, t.Fields)
	case *ast.InterfaceType:
		sym.Kind = types.KindInterface
		methodCount := 0
		if t.Methods != nil {
			methodCount = t.Methods.NumFields()
		}
		sym.Signature = fmt.Sprintf("type %s interface { ... } // %d methods", name, methodCount)
		e.extractEmbedded(name, t.Methods)
	default:
		sym.Kind = types.KindType
		sym.Signature = fmt.Sprintf("type %s", name)
	}

	e.result.Symbols = append(e.result.Symbols, sym)
}

// extractEmbedded records extends-references for embedded type names
func (e *goExtractor) extractEmbedded(owner string, fields *ast.FieldList) {
	if fields == nil {
		return
	}
	for _, field := range fields.List {
		if len(field.Names) != 0 {
			continue // named field, not an embedding
		}
		embedded := calleeName(unwrapStar(field.Type))
		if embedded == "" {
			continue
		}
		e.result.Relationships = append(e.result.Relationships, types.RelationshipRef{
			FromName: owner,
			ToName:   embedded,
			Kind:     types.RelExtends,
			FilePath: e.path,
			Line:     e.fset.Position(field.Pos()).Line,
		})
	}
}

func unwrapStar(expr ast.Expr) ast.Expr {
	if star, ok := expr.(*ast.StarExpr); ok {
		return star.X
	}
	return expr
}

// extractValueSpec extracts const and var declarations
func (e *goExtractor) extractValueSpec(valueSpec *ast.ValueSpec, doc *ast.CommentGroup, tok token.Token) {
	kind := types.KindVar
	if tok == token.CONST {
		kind = types.KindConst
	}

	for _, name := range valueSpec.Names {
		sym := types.Symbol{
			Name:       name.Name,
			Kind:       kind,
			FilePath:   e.path,
			Doc:        docText(doc),
			Span:       e.spanOf(valueSpec.Pos(), valueSpec.End()),
			Language:   types.LangGo,
			Visibility: visibilityOf(types.LangGo, name.Name),
		}

		if valueSpec.Type != nil {
			sym.Signature = fmt.Sprintf("%s %s", name.Name, exprToString(valueSpec.Type))
		} else {
			sym.Signature = name.Name
		}

		e.result.Symbols = append(e.result.Symbols, sym)
	}
}

// functionSignature builds a function signature string
func (e *goExtractor) functionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")

	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(exprToString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}

	sig.WriteString(funcDecl.Name.Name)

	sig.WriteString("(")
	if funcDecl.Type.Params != nil {
		sig.WriteString(fieldListToString(funcDecl.Type.Params))
	}
	sig.WriteString(")")

	if funcDecl.Type.Results != nil {
		results := fieldListToString(funcDecl.Type.Results)
		if results != "" {
			if funcDecl.Type.Results.NumFields() > 1 {
				sig.WriteString(" (")
				sig.WriteString(results)
				sig.WriteString(")")
			} else {
				sig.WriteString(" ")
				sig.WriteString(results)
			}
		}
	}

	return sig.String()
}

func (e *goExtractor) spanOf(start, end token.Pos) types.Span {
	sp := e.fset.Position(start)
	ep := e.fset.Position(end)
	return types.Span{
		StartByte: uint32(sp.Offset),
		EndByte:   uint32(ep.Offset),
		StartLine: sp.Line,
		EndLine:   ep.Line,
	}
}

// fieldListToString converts a field list to a string representation
func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) > 0 {
			names := make([]string, len(field.Names))
			for i, name := range field.Names {
				names[i] = name.Name
			}
			parts = append(parts, strings.Join(names, ", ")+" "+typeStr)
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts an AST expression to its string representation
func exprToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		return "[]" + exprToString(t.Elt)
	case *ast.MapType:
		return "map[" + exprToString(t.Key) + "]" + exprToString(t.Value)
	case *ast.ChanType:
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.StructType:
		return "struct{}"
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	default:
		return "?"
	}
}

func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}
