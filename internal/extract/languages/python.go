package languages

import (
	"path"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"codemap/internal/extract"
)

// RegisterPython registers the Python grammar and entity extractor.
func RegisterPython(r *extract.Registry) {
	r.Register("python", &extract.LanguageSpec{
		Language:   python.GetLanguage(),
		Extensions: []string{"py", "pyi"},
		Extract:    extractPython,
	})
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// extractPython walks module and class blocks, emitting module, class,
// function, method and variable entities with dotted fqnames. Bodies of
// functions are not descended into.
func extractPython(relPath string, src []byte, root *sitter.Node) ([]extract.Entity, error) {
	modName := moduleName(relPath)
	mod := extract.Entity{
		FQName:    modName,
		Kind:      extract.KindModule,
		Docstring: docstringIn(root, src),
	}
	mod.StartLine, mod.StartCol, mod.EndLine, mod.EndCol = nodeSpan(root)

	ents := []extract.Entity{mod}
	collectBlock(root, src, modName, false, &ents)
	return ents, nil
}

// moduleName derives the dotted module fqname from a slash-separated
// relative path: "pkg/util.py" → "pkg.util", "pkg/__init__.py" → "pkg".
func moduleName(relPath string) string {
	p := strings.TrimSuffix(relPath, path.Ext(relPath))
	p = strings.TrimSuffix(p, "/__init__")
	return strings.ReplaceAll(p, "/", ".")
}

func collectBlock(block *sitter.Node, src []byte, prefix string, inClass bool, out *[]extract.Entity) {
	for i := 0; i < int(block.ChildCount()); i++ {
		stmt := block.Child(i)
		switch stmt.Type() {
		case "function_definition":
			emitFunction(stmt, stmt, src, prefix, inClass, out)
		case "class_definition":
			emitClass(stmt, stmt, src, prefix, out)
		case "decorated_definition":
			def := stmt.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			// The decorated_definition node spans the decorators too.
			switch def.Type() {
			case "function_definition":
				emitFunction(def, stmt, src, prefix, inClass, out)
			case "class_definition":
				emitClass(def, stmt, src, prefix, out)
			}
		case "expression_statement":
			for j := 0; j < int(stmt.ChildCount()); j++ {
				if expr := stmt.Child(j); expr.Type() == "assignment" {
					emitVariable(expr, src, prefix, out)
				}
			}
		}
	}
}

func emitFunction(def, outer *sitter.Node, src []byte, prefix string, inClass bool, out *[]extract.Entity) {
	name := childText(def, "identifier", src)
	if name == "" {
		return
	}
	kind := extract.KindFunction
	if inClass {
		kind = extract.KindMethod
	}
	e := extract.Entity{
		FQName:       prefix + "." + name,
		Kind:         kind,
		Signature:    functionSignature(def, src),
		Docstring:    bodyDocstring(def, src),
		ParentFQName: prefix,
	}
	e.StartLine, e.StartCol, e.EndLine, e.EndCol = nodeSpan(outer)
	*out = append(*out, e)
}

func emitClass(def, outer *sitter.Node, src []byte, prefix string, out *[]extract.Entity) {
	name := childText(def, "identifier", src)
	if name == "" {
		return
	}
	fq := prefix + "." + name
	e := extract.Entity{
		FQName:       fq,
		Kind:         extract.KindClass,
		Signature:    classSignature(def, src),
		Docstring:    bodyDocstring(def, src),
		ParentFQName: prefix,
	}
	e.StartLine, e.StartCol, e.EndLine, e.EndCol = nodeSpan(outer)
	*out = append(*out, e)

	if body := def.ChildByFieldName("body"); body != nil {
		collectBlock(body, src, fq, true, out)
	}
}

// emitVariable indexes simple `name = ...` and `name: Type = ...` targets.
// Tuple unpacking, subscripts and attribute targets are not indexed.
func emitVariable(assign *sitter.Node, src []byte, prefix string, out *[]extract.Entity) {
	left := assign.Child(0)
	if left == nil || left.Type() != "identifier" {
		return
	}
	name := nodeText(left, src)

	sig := name
	if annotation := childText(assign, "type", src); annotation != "" {
		sig = name + ": " + collapseWhitespace(annotation)
	}

	e := extract.Entity{
		FQName:       prefix + "." + name,
		Kind:         extract.KindVariable,
		Signature:    sig,
		ParentFQName: prefix,
	}
	e.StartLine, e.StartCol, e.EndLine, e.EndCol = nodeSpan(assign)
	*out = append(*out, e)
}

// functionSignature renders "name(params) -> ret" from the definition node.
// In this grammar version the return annotation is a "type" child.
func functionSignature(def *sitter.Node, src []byte) string {
	var name, params, returnType string
	for i := 0; i < int(def.ChildCount()); i++ {
		child := def.Child(i)
		switch child.Type() {
		case "identifier":
			if name == "" {
				name = nodeText(child, src)
			}
		case "parameters":
			params = collapseWhitespace(nodeText(child, src))
		case "type":
			returnType = collapseWhitespace(nodeText(child, src))
		}
	}
	sig := name + params
	if returnType != "" {
		sig += " -> " + returnType
	}
	return sig
}

// classSignature renders "Name(bases)" or just "Name".
func classSignature(def *sitter.Node, src []byte) string {
	var name, bases string
	for i := 0; i < int(def.ChildCount()); i++ {
		child := def.Child(i)
		switch child.Type() {
		case "identifier":
			if name == "" {
				name = nodeText(child, src)
			}
		case "argument_list":
			bases = collapseWhitespace(nodeText(child, src))
		}
	}
	if bases != "" {
		return name + bases
	}
	return name
}

// bodyDocstring returns the docstring of a definition's body block, if any.
func bodyDocstring(def *sitter.Node, src []byte) string {
	body := def.ChildByFieldName("body")
	if body == nil {
		return ""
	}
	return docstringIn(body, src)
}

// docstringIn returns the leading string literal of a statement block,
// skipping comments, with quotes and literal prefixes stripped.
func docstringIn(block *sitter.Node, src []byte) string {
	for i := 0; i < int(block.ChildCount()); i++ {
		stmt := block.Child(i)
		if stmt.Type() == "comment" {
			continue
		}
		if stmt.Type() != "expression_statement" || stmt.ChildCount() == 0 {
			return ""
		}
		lit := stmt.Child(0)
		if lit.Type() != "string" {
			return ""
		}
		return cleanStringLiteral(nodeText(lit, src))
	}
	return ""
}

func cleanStringLiteral(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// nodeSpan converts tree-sitter points to 1-based inclusive line spans.
// EndPoint is exclusive; a node ending at a line break reports column 0 of
// the following line.
func nodeSpan(n *sitter.Node) (startLine, startCol, endLine, endCol int) {
	sp, ep := n.StartPoint(), n.EndPoint()
	startLine = int(sp.Row) + 1
	startCol = int(sp.Column)
	endLine = int(ep.Row) + 1
	endCol = int(ep.Column) - 1
	if endCol < 0 {
		endLine--
		endCol = 0
		if endLine < startLine {
			endLine = startLine
		}
	}
	return startLine, startCol, endLine, endCol
}

func childText(n *sitter.Node, typ string, src []byte) string {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.Type() == typ {
			return nodeText(c, src)
		}
	}
	return ""
}

func nodeText(n *sitter.Node, src []byte) string {
	return string(src[n.StartByte():n.EndByte()])
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
