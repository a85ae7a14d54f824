// Package provider holds the fixed, ordered set of transformations that run
// for every location request, and isolates their failures from each other.
package provider

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/zhubert/plural-refactor/project"
)

var (
	ErrEmptyName         = errors.New("provider name is empty")
	ErrNilFunc           = errors.New("provider function is nil")
	ErrDuplicateProvider = errors.New("duplicate provider name")
)

// Func computes the changeset one transformation proposes at a location.
// Implementations must not mutate the model.
type Func func(ctx context.Context, model project.Model, res project.Resource, offset int) (project.Changeset, error)

// Entry is one named provider.
type Entry struct {
	Name string
	Func Func
}

// Registry is an immutable ordered list of providers. Its order is the
// order of every response envelope.
type Registry struct {
	entries []Entry
}

// New builds a registry from entries, keeping their order.
func New(entries ...Entry) (*Registry, error) {
	seen := make(map[string]bool, len(entries))
	r := &Registry{entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			return nil, ErrEmptyName
		}
		if e.Func == nil {
			return nil, fmt.Errorf("%w: %s", ErrNilFunc, e.Name)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, e.Name)
		}
		seen[e.Name] = true
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// Len returns the number of providers.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Names returns the provider names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns a copy of the entries in order.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Failure describes why a provider produced no changeset.
type Failure struct {
	Err error
	// Stack is set when the provider panicked.
	Stack []byte
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the outcome of one provider invocation: exactly one of
// Changeset and Failure is meaningful, selected by Failure being nil.
type Result struct {
	Provider  string
	Changeset project.Changeset
	Failure   *Failure
}

// OK reports whether the provider succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

// Invoke runs every provider against the location, in order. A provider that
// returns an error or panics yields a failed Result; the remaining providers
// still run.
func (r *Registry) Invoke(ctx context.Context, model project.Model, res project.Resource, offset int) []Result {
	results := make([]Result, 0, len(r.entries))
	for _, e := range r.entries {
		results = append(results, call(ctx, e, model, res, offset))
	}
	return results
}

func call(ctx context.Context, e Entry, model project.Model, res project.Resource, offset int) (result Result) {
	result.Provider = e.Name
	defer func() {
		if v := recover(); v != nil {
			result.Changeset = project.Changeset{}
			result.Failure = &Failure{Err: fmt.Errorf("provider %s panicked: %v", e.Name, v), Stack: debug.Stack()}
		}
	}()

	cs, err := e.Func(ctx, model, res, offset)
	if err != nil {
		result.Failure = &Failure{Err: err}
		return result
	}
	result.Changeset = cs
	return result
}

// Successes returns the successful results, preserving order.
func Successes(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}
