package refactor

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/zhubert/plural-refactor/project"
)

// ConvertLocalToField turns the local variable under the cursor into an
// attribute of the method's receiver: every occurrence of `x` in the method
// becomes `self.x` (or whatever the first parameter is called).
func ConvertLocalToField(ctx context.Context, model project.Model, res project.Resource, offset int) (project.Changeset, error) {
	t, err := locate(ctx, model, res, offset)
	if err != nil {
		return project.Changeset{}, err
	}
	mod := t.mod

	id := identifierAt(mod.RootNode(), t.offset)
	if id == nil {
		return project.Changeset{}, fmt.Errorf("%w: not on a variable name", ErrNoTarget)
	}
	switch classify(id) {
	case usageNone:
		return project.Changeset{}, fmt.Errorf("%w: not on a variable name", ErrNoTarget)
	case usageParameter:
		return project.Changeset{}, fmt.Errorf("%w: %s is a parameter", ErrUnsupported, mod.Text(id))
	}
	name := mod.Text(id)

	method := scopeOf(id)
	if method.Type() != "function_definition" {
		return project.Changeset{}, fmt.Errorf("%w: %s is not a local variable", ErrNoTarget, name)
	}
	class := owningClass(method)
	if class == nil {
		return project.Changeset{}, fmt.Errorf("%w: %s is not inside a method", ErrNoTarget, name)
	}
	if hasDecorator(mod, method, "staticmethod") {
		return project.Changeset{}, fmt.Errorf("%w: static methods have no receiver", ErrUnsupported)
	}
	receiver := receiverName(mod, method)
	if receiver == "" {
		return project.Changeset{}, fmt.Errorf("%w: method has no receiver parameter", ErrUnsupported)
	}
	if name == receiver {
		return project.Changeset{}, fmt.Errorf("%w: %s is the receiver", ErrUnsupported, name)
	}

	occurrences := scan(method, mod.Source, name)
	bound := false
	for _, occ := range occurrences {
		if occ.nested {
			return project.Changeset{}, fmt.Errorf("%w: %s is used in a nested scope", ErrUnsupported, name)
		}
		switch occ.usage {
		case usageAssign:
			bound = true
		case usageBinding:
			if !attributeBindable(occ.node) {
				return project.Changeset{}, fmt.Errorf("%w: %s is bound where an attribute is not allowed", ErrUnsupported, name)
			}
			bound = true
		case usageParameter:
			return project.Changeset{}, fmt.Errorf("%w: %s is a parameter", ErrUnsupported, name)
		case usageImport:
			return project.Changeset{}, fmt.Errorf("%w: %s is an import", ErrUnsupported, name)
		case usageDeclaration:
			return project.Changeset{}, fmt.Errorf("%w: %s is declared global or nonlocal", ErrUnsupported, name)
		}
	}
	if !bound {
		return project.Changeset{}, fmt.Errorf("%w: %s is not assigned in %s", ErrNoTarget, name, functionName(mod, method))
	}

	if classDefines(mod, class, receiver, name) {
		return project.Changeset{}, fmt.Errorf("%w: %s already has a field %s", ErrConflict, className(mod, class), name)
	}

	field := receiver + "." + name
	edits := make([]edit, 0, len(occurrences))
	for _, occ := range occurrences {
		edits = append(edits, edit{start: int(occ.node.StartByte()), end: int(occ.node.EndByte()), text: field})
	}

	return singleFile(
		fmt.Sprintf("Convert local variable %s to field", name),
		res,
		applyEdits(mod.Source, edits),
	), nil
}

// owningClass returns the class whose body directly holds method.
func owningClass(method *sitter.Node) *sitter.Node {
	n := method
	if p := n.Parent(); p != nil && p.Type() == "decorated_definition" {
		n = p
	}
	block := n.Parent()
	if block == nil || block.Type() != "block" {
		return nil
	}
	class := block.Parent()
	if class == nil || class.Type() != "class_definition" {
		return nil
	}
	return class
}

func hasDecorator(mod *project.Module, method *sitter.Node, name string) bool {
	p := method.Parent()
	if p == nil || p.Type() != "decorated_definition" {
		return false
	}
	for i := 0; i < int(p.NamedChildCount()); i++ {
		d := p.NamedChild(i)
		if d.Type() != "decorator" || d.NamedChildCount() == 0 {
			continue
		}
		if expr := d.NamedChild(0); expr.Type() == "identifier" && mod.Text(expr) == name {
			return true
		}
	}
	return false
}

// receiverName returns the name of the method's first positional parameter.
func receiverName(mod *project.Module, method *sitter.Node) string {
	params := method.ChildByFieldName("parameters")
	if params == nil {
		return ""
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		c := params.NamedChild(i)
		switch c.Type() {
		case "comment":
			continue
		case "identifier":
			return mod.Text(c)
		case "typed_parameter":
			if c.NamedChildCount() > 0 && c.NamedChild(0).Type() == "identifier" {
				return mod.Text(c.NamedChild(0))
			}
		}
		return ""
	}
	return ""
}

// attributeBindable reports whether the binding at id still parses when id is
// replaced by an attribute reference.
func attributeBindable(id *sitter.Node) bool {
	target := id
	for q := id.Parent(); q != nil && patternContainers[q.Type()]; q = q.Parent() {
		target = q
	}
	owner := target.Parent()
	if owner == nil {
		return false
	}
	switch owner.Type() {
	case "assignment", "augmented_assignment", "for_statement", "delete_statement":
		return true
	case "as_pattern_target":
		return enclosing(owner, "except_clause", "except_group_clause") == nil
	case "as_pattern":
		return enclosing(owner, "except_clause", "except_group_clause", "case_clause") == nil
	}
	return false
}

// classDefines reports whether class already binds name at class level or
// assigns receiver.name anywhere in its body.
func classDefines(mod *project.Module, class *sitter.Node, receiver, name string) bool {
	for _, occ := range scan(class, mod.Source, name) {
		if !occ.nested && (occ.usage == usageAssign || occ.usage == usageBinding) {
			return true
		}
	}

	found := false
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if found {
			return
		}
		if n.Type() == "attribute" {
			obj := n.ChildByFieldName("object")
			attr := n.ChildByFieldName("attribute")
			if obj != nil && attr != nil && obj.Type() == "identifier" &&
				mod.Text(obj) == receiver && mod.Text(attr) == name {
				found = true
				return
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	if body := class.ChildByFieldName("body"); body != nil {
		walk(body)
	}
	return found
}

func className(mod *project.Module, class *sitter.Node) string {
	if name := class.ChildByFieldName("name"); name != nil {
		return mod.Text(name)
	}
	return "class"
}
