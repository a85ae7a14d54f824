package refactor

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// usage classifies one identifier occurrence relative to the name it spells.
type usage int

const (
	// usageNone: the identifier is not a variable reference (attribute name,
	// keyword argument name).
	usageNone usage = iota
	usageRead
	// usageAssign: the left side of a plain `name = expr` statement.
	usageAssign
	// usageBinding: any other binding (augmented assignment, loop target,
	// unpacking, walrus, with/except alias, del, def/class name).
	usageBinding
	usageParameter
	usageImport
	// usageDeclaration: global or nonlocal statement.
	usageDeclaration
)

// occurrence is one identifier spelling the target name.
type occurrence struct {
	node   *sitter.Node
	usage  usage
	nested bool
}

// patternContainers can wrap a binding target, as in `a, (b, *c) = ...`.
var patternContainers = map[string]bool{
	"pattern_list":       true,
	"tuple_pattern":      true,
	"list_pattern":       true,
	"list_splat_pattern": true,
}

// atomicExpressions never need parentheses when substituted for a name.
var atomicExpressions = map[string]bool{
	"identifier":               true,
	"integer":                  true,
	"float":                    true,
	"string":                   true,
	"concatenated_string":      true,
	"true":                     true,
	"false":                    true,
	"none":                     true,
	"ellipsis":                 true,
	"call":                     true,
	"attribute":                true,
	"subscript":                true,
	"parenthesized_expression": true,
	"list":                     true,
	"dictionary":               true,
	"set":                      true,
	"tuple":                    true,
	"list_comprehension":       true,
	"dictionary_comprehension": true,
	"set_comprehension":        true,
	"generator_expression":     true,
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil &&
		a.StartByte() == b.StartByte() &&
		a.EndByte() == b.EndByte() &&
		a.Type() == b.Type()
}

func isField(parent *sitter.Node, field string, child *sitter.Node) bool {
	return sameNode(parent.ChildByFieldName(field), child)
}

func contains(outer, inner *sitter.Node) bool {
	return outer.StartByte() <= inner.StartByte() && inner.EndByte() <= outer.EndByte()
}

// nodeAt returns the smallest named node whose range holds byte offset b.
func nodeAt(root *sitter.Node, b uint32) *sitter.Node {
	n := root
	for {
		var next *sitter.Node
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.StartByte() <= b && b < c.EndByte() {
				next = c
				break
			}
		}
		if next == nil {
			return n
		}
		n = next
	}
}

// identifierAt returns the identifier under the cursor. A cursor placed just
// after a name also selects it.
func identifierAt(root *sitter.Node, b int) *sitter.Node {
	if n := nodeAt(root, uint32(b)); n.Type() == "identifier" {
		return n
	}
	if b > 0 {
		if n := nodeAt(root, uint32(b-1)); n.Type() == "identifier" {
			return n
		}
	}
	return nil
}

// enclosing returns the nearest ancestor of n whose type is one of types.
func enclosing(n *sitter.Node, types ...string) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		for _, t := range types {
			if p.Type() == t {
				return p
			}
		}
	}
	return nil
}

// scopeOf returns the function, lambda, class or module that owns the name
// spelled by id.
func scopeOf(id *sitter.Node) *sitter.Node {
	start := id
	if p := id.Parent(); p != nil && (p.Type() == "function_definition" || p.Type() == "class_definition") && isField(p, "name", id) {
		start = p
	}
	for p := start.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "function_definition", "lambda", "class_definition", "module":
			return p
		}
	}
	return start
}

// classify decides how id is used.
func classify(id *sitter.Node) usage {
	p := id.Parent()
	if p == nil {
		return usageRead
	}

	switch p.Type() {
	case "attribute":
		if isField(p, "attribute", id) {
			return usageNone
		}
	case "keyword_argument":
		if isField(p, "name", id) {
			return usageNone
		}
	case "function_definition", "class_definition":
		if isField(p, "name", id) {
			return usageBinding
		}
	case "default_parameter", "typed_default_parameter":
		if isField(p, "name", id) {
			return usageParameter
		}
		return usageRead
	case "typed_parameter", "parameters", "lambda_parameters":
		return usageParameter
	case "global_statement", "nonlocal_statement":
		return usageDeclaration
	case "list_splat_pattern", "dictionary_splat_pattern":
		if gp := p.Parent(); gp != nil && (gp.Type() == "parameters" || gp.Type() == "lambda_parameters" || gp.Type() == "typed_parameter") {
			return usageParameter
		}
	}

	if enclosing(id, "import_statement", "import_from_statement", "future_import_statement") != nil {
		return usageImport
	}

	target := id
	for q := id.Parent(); q != nil && patternContainers[q.Type()]; q = q.Parent() {
		target = q
	}
	owner := target.Parent()
	if owner == nil {
		return usageRead
	}

	switch owner.Type() {
	case "assignment":
		if !isField(owner, "left", target) {
			return usageRead
		}
		right := owner.ChildByFieldName("right")
		stmt := owner.Parent()
		if sameNode(target, id) && right != nil && right.Type() != "assignment" &&
			stmt != nil && stmt.Type() == "expression_statement" && stmt.NamedChildCount() == 1 {
			return usageAssign
		}
		return usageBinding
	case "augmented_assignment":
		if isField(owner, "left", target) {
			return usageBinding
		}
	case "for_statement", "for_in_clause":
		if isField(owner, "left", target) {
			return usageBinding
		}
	case "named_expression":
		if isField(owner, "name", target) {
			return usageBinding
		}
	case "as_pattern_target", "delete_statement":
		return usageBinding
	case "as_pattern":
		if isField(owner, "alias", target) {
			return usageBinding
		}
	}
	return usageRead
}

// scan lists every occurrence of name owned by scope, in source order.
// Occurrences inside nested functions, lambdas and class bodies are reported
// with nested set, except for the name of a nested def or class and the
// bases of a nested class, which belong to scope.
func scan(scope *sitter.Node, source []byte, name string) []occurrence {
	var out []occurrence

	var walk func(n *sitter.Node, nested bool)
	walk = func(n *sitter.Node, nested bool) {
		if n.Type() == "identifier" {
			if string(source[n.StartByte():n.EndByte()]) == name {
				if u := classify(n); u != usageNone {
					out = append(out, occurrence{node: n, usage: u, nested: nested})
				}
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			childNested := nested
			if !sameNode(n, scope) {
				switch n.Type() {
				case "function_definition":
					childNested = nested || !isField(n, "name", c)
				case "class_definition":
					childNested = nested || !(isField(n, "name", c) || isField(n, "superclasses", c))
				case "lambda":
					childNested = true
				}
			} else if n.Type() == "function_definition" || n.Type() == "class_definition" {
				// The scope's own name lives in the parent scope.
				if isField(n, "name", c) {
					continue
				}
			}
			walk(c, childNested)
		}
	}
	walk(scope, false)
	return out
}

// edit replaces source[start:end] with text.
type edit struct {
	start, end int
	text       string
}

// applyEdits applies non-overlapping edits to source.
func applyEdits(source []byte, edits []edit) string {
	sorted := append([]edit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var b strings.Builder
	b.Grow(len(source))
	pos := 0
	for _, e := range sorted {
		b.Write(source[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
	}
	b.Write(source[pos:])
	return b.String()
}

// statementRemoval returns the edit that deletes stmt together with its line.
// A statement that is alone in its block is replaced with `pass` instead.
// ok is false when stmt shares its line with other code.
func statementRemoval(source []byte, stmt *sitter.Node) (edit, bool) {
	start, end := int(stmt.StartByte()), int(stmt.EndByte())

	lineStart := start
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if strings.TrimSpace(string(source[lineStart:start])) != "" {
		return edit{}, false
	}

	lineEnd := end
	for lineEnd < len(source) && source[lineEnd] != '\n' {
		lineEnd++
	}
	rest := strings.TrimSpace(string(source[end:lineEnd]))
	if rest != "" && !strings.HasPrefix(rest, "#") {
		return edit{}, false
	}

	if block := stmt.Parent(); block != nil && block.Type() == "block" && statementCount(block) == 1 {
		return edit{start: start, end: lineEnd, text: "pass"}, true
	}

	if lineEnd < len(source) {
		lineEnd++
	}
	return edit{start: lineStart, end: lineEnd}, true
}

func statementCount(block *sitter.Node) int {
	count := 0
	for i := 0; i < int(block.NamedChildCount()); i++ {
		if block.NamedChild(i).Type() != "comment" {
			count++
		}
	}
	return count
}
