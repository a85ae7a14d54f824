// Package refactor implements the transformations offered at a cursor
// location: inline, introduce_parameter and local_to_field.
//
// Every transformation reads one module snapshot and proposes the complete
// new contents of the files it touches. Nothing is written to disk.
package refactor

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhubert/plural-refactor/config"
	"github.com/zhubert/plural-refactor/project"
	"github.com/zhubert/plural-refactor/provider"
)

// Provider names, in the order they appear in every response.
const (
	Inline             = "inline"
	IntroduceParameter = "introduce_parameter"
	LocalToField       = "local_to_field"
)

var (
	// ErrNoTarget means there is nothing the transformation applies to at the cursor.
	ErrNoTarget = errors.New("no refactoring target at offset")
	// ErrUnsupported means the target exists but the transformation cannot be applied safely.
	ErrUnsupported = errors.New("unsupported refactoring")
	// ErrConflict means the transformation would collide with an existing name.
	ErrConflict = errors.New("name conflict")
)

// Known returns the names of every transformation, in registry order.
func Known() []string {
	return []string{Inline, IntroduceParameter, LocalToField}
}

// Providers returns the registry entries for every enabled transformation.
func Providers(cfg *config.Config) ([]provider.Entry, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	for _, name := range cfg.Providers.Disabled {
		if !isKnown(name) {
			return nil, fmt.Errorf("%w: unknown provider %q in providers.disabled", config.ErrInvalidConfig, name)
		}
	}

	paramName := cfg.Providers.IntroduceParameter.ParameterName
	if paramName == "" {
		paramName = config.DefaultParameterName
	}

	all := []provider.Entry{
		{Name: Inline, Func: InlineVariable},
		{Name: IntroduceParameter, Func: NewIntroduceParameter(paramName)},
		{Name: LocalToField, Func: ConvertLocalToField},
	}

	entries := make([]provider.Entry, 0, len(all))
	for _, e := range all {
		if !cfg.IsDisabled(e.Name) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// NewRegistry builds the registry of enabled transformations.
func NewRegistry(cfg *config.Config) (*provider.Registry, error) {
	entries, err := Providers(cfg)
	if err != nil {
		return nil, err
	}
	return provider.New(entries...)
}

func isKnown(name string) bool {
	for _, k := range Known() {
		if k == name {
			return true
		}
	}
	return false
}

// target is the module and byte offset a transformation works on.
type target struct {
	mod    *project.Module
	offset int
}

func locate(ctx context.Context, model project.Model, res project.Resource, offset int) (target, error) {
	mod, err := model.Module(ctx, res)
	if err != nil {
		return target{}, err
	}
	b, err := mod.ByteOffset(offset)
	if err != nil {
		return target{}, err
	}
	return target{mod: mod, offset: b}, nil
}

func singleFile(description string, res project.Resource, contents string) project.Changeset {
	return project.Changeset{
		Description: description,
		Changes:     []project.Change{{Resource: res, NewContents: contents}},
	}
}
