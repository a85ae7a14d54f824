package refactor

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/zhubert/plural-refactor/project"
)

// InlineVariable replaces every read of the variable under the cursor with
// the expression it was assigned, then removes the assignment.
//
// The variable must be bound exactly once in its scope, by a plain
// `name = expr` statement, and must not be read before that statement or
// from a nested scope.
func InlineVariable(ctx context.Context, model project.Model, res project.Resource, offset int) (project.Changeset, error) {
	t, err := locate(ctx, model, res, offset)
	if err != nil {
		return project.Changeset{}, err
	}
	mod := t.mod

	id := identifierAt(mod.RootNode(), t.offset)
	if id == nil || classify(id) == usageNone {
		return project.Changeset{}, fmt.Errorf("%w: not on a variable name", ErrNoTarget)
	}
	name := mod.Text(id)

	var assign *occurrence
	var reads []occurrence
	for _, occ := range scan(scopeOf(id), mod.Source, name) {
		if occ.nested {
			return project.Changeset{}, fmt.Errorf("%w: %s is used in a nested scope", ErrUnsupported, name)
		}
		switch occ.usage {
		case usageRead:
			reads = append(reads, occ)
		case usageAssign:
			if assign != nil {
				return project.Changeset{}, fmt.Errorf("%w: %s is assigned more than once", ErrUnsupported, name)
			}
			assign = &occ
		case usageParameter:
			return project.Changeset{}, fmt.Errorf("%w: %s is a parameter", ErrUnsupported, name)
		default:
			return project.Changeset{}, fmt.Errorf("%w: %s is not bound by a single assignment", ErrUnsupported, name)
		}
	}
	if assign == nil {
		return project.Changeset{}, fmt.Errorf("%w: no assignment to %s in this scope", ErrNoTarget, name)
	}
	if len(reads) == 0 {
		return project.Changeset{}, fmt.Errorf("%w: %s is never used", ErrUnsupported, name)
	}

	assignment := assign.node.Parent()
	stmt := assignment.Parent()
	for _, r := range reads {
		if r.node.StartByte() < stmt.EndByte() {
			return project.Changeset{}, fmt.Errorf("%w: %s is used before its assignment", ErrUnsupported, name)
		}
	}

	right := assignment.ChildByFieldName("right")
	value := mod.Text(right)

	removal, ok := statementRemoval(mod.Source, stmt)
	if !ok {
		return project.Changeset{}, fmt.Errorf("%w: the assignment to %s shares its line with other code", ErrUnsupported, name)
	}

	edits := []edit{removal}
	for _, r := range reads {
		if !fitsInterpolation(mod, right, r.node) {
			return project.Changeset{}, fmt.Errorf("%w: the value of %s cannot be placed inside this f-string", ErrUnsupported, name)
		}
		text := value
		if needsParens(right, r.node) {
			text = "(" + value + ")"
		}
		edits = append(edits, edit{start: int(r.node.StartByte()), end: int(r.node.EndByte()), text: text})
	}

	return singleFile(
		fmt.Sprintf("Inline variable %s", name),
		res,
		applyEdits(mod.Source, edits),
	), nil
}

// needsParens reports whether value must be parenthesized to replace read.
// An integer literal directly followed by an attribute dot would lex as a
// float, as in `1.real`.
func needsParens(value, read *sitter.Node) bool {
	if !atomicExpressions[value.Type()] {
		return true
	}
	if value.Type() == "integer" {
		if p := read.Parent(); p != nil && p.Type() == "attribute" && isField(p, "object", read) {
			return true
		}
	}
	return false
}

// fitsInterpolation reports whether the text of value may replace read when
// read sits in an f-string replacement field. Before Python 3.12 the field
// cannot contain a backslash or reuse the quote of the enclosing string.
func fitsInterpolation(mod *project.Module, value, read *sitter.Node) bool {
	if enclosing(read, "interpolation") == nil {
		return true
	}
	text := mod.Text(value)
	if strings.Contains(text, "\\") {
		return false
	}
	outer := enclosing(read, "string")
	if outer == nil {
		return true
	}
	delim := stringDelimiter(mod.Text(outer))
	return delim == "" || !strings.Contains(text, delim)
}

// stringDelimiter returns the opening quote of a string literal: one of
// ', ", ''' or """.
func stringDelimiter(literal string) string {
	body := strings.TrimLeft(literal, "rRbBuUfF")
	for _, d := range []string{`"""`, "'''", `"`, "'"} {
		if strings.HasPrefix(body, d) {
			return d
		}
	}
	return ""
}
