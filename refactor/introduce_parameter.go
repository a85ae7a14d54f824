package refactor

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/zhubert/plural-refactor/project"
	"github.com/zhubert/plural-refactor/provider"
)

// NewIntroduceParameter returns the introduce_parameter transformation using
// paramName for the new parameter.
//
// The name or dotted attribute under the cursor, inside a function body,
// becomes the default value of a new keyword parameter and the selected
// occurrence is replaced by the parameter name. The parameter is added before
// a `**kwargs` parameter if there is one, otherwise last.
func NewIntroduceParameter(paramName string) provider.Func {
	return func(ctx context.Context, model project.Model, res project.Resource, offset int) (project.Changeset, error) {
		return introduceParameter(ctx, model, res, offset, paramName)
	}
}

func introduceParameter(ctx context.Context, model project.Model, res project.Resource, offset int, paramName string) (project.Changeset, error) {
	t, err := locate(ctx, model, res, offset)
	if err != nil {
		return project.Changeset{}, err
	}
	mod := t.mod

	id := identifierAt(mod.RootNode(), t.offset)
	if id == nil {
		return project.Changeset{}, fmt.Errorf("%w: not on a name", ErrNoTarget)
	}

	expr := id
	if p := id.Parent(); p != nil && p.Type() == "attribute" && isField(p, "attribute", id) {
		expr = p
	} else if u := classify(id); u != usageRead {
		return project.Changeset{}, fmt.Errorf("%w: %s is not an expression", ErrNoTarget, mod.Text(id))
	}
	if isStoreTarget(expr) {
		return project.Changeset{}, fmt.Errorf("%w: cannot replace an assignment target", ErrUnsupported)
	}

	fn := enclosing(expr, "function_definition")
	if fn == nil {
		return project.Changeset{}, fmt.Errorf("%w: not inside a function", ErrNoTarget)
	}
	body := fn.ChildByFieldName("body")
	if body == nil || !contains(body, expr) {
		return project.Changeset{}, fmt.Errorf("%w: not inside a function body", ErrNoTarget)
	}

	for _, occ := range scan(fn, mod.Source, paramName) {
		if occ.usage != usageNone {
			return project.Changeset{}, fmt.Errorf("%w: %s is already used in %s", ErrConflict, paramName, functionName(mod, fn))
		}
	}

	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return project.Changeset{}, fmt.Errorf("%w: function has no parameter list", ErrUnsupported)
	}

	value := mod.Text(expr)
	edits := []edit{
		parameterInsertion(params, paramName+"="+value),
		{start: int(expr.StartByte()), end: int(expr.EndByte()), text: paramName},
	}

	return singleFile(
		fmt.Sprintf("Introduce parameter %s in %s", paramName, functionName(mod, fn)),
		res,
		applyEdits(mod.Source, edits),
	), nil
}

// parameterInsertion returns the edit that adds param to params.
func parameterInsertion(params *sitter.Node, param string) edit {
	var last *sitter.Node
	for i := 0; i < int(params.NamedChildCount()); i++ {
		c := params.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		if c.Type() == "dictionary_splat_pattern" {
			at := int(c.StartByte())
			return edit{start: at, end: at, text: param + ", "}
		}
		last = c
	}
	if last == nil {
		at := int(params.StartByte()) + 1
		return edit{start: at, end: at, text: param}
	}
	at := int(last.EndByte())
	return edit{start: at, end: at, text: ", " + param}
}

// isStoreTarget reports whether expr is written to rather than read.
func isStoreTarget(expr *sitter.Node) bool {
	target := expr
	for q := expr.Parent(); q != nil && patternContainers[q.Type()]; q = q.Parent() {
		target = q
	}
	owner := target.Parent()
	if owner == nil {
		return false
	}
	switch owner.Type() {
	case "assignment", "augmented_assignment", "for_statement", "for_in_clause":
		return isField(owner, "left", target)
	case "delete_statement", "as_pattern_target":
		return true
	}
	return false
}

func functionName(mod *project.Module, fn *sitter.Node) string {
	if name := fn.ChildByFieldName("name"); name != nil {
		return mod.Text(name)
	}
	return "function"
}
