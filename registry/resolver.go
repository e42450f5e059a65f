package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/gofhir/modelinfo/pkg/loader"
)

// skippedDependencies are package families that carry no StructureDefinitions a model
// build needs.
var skippedDependencies = []string{
	"hl7.terminology",
}

// Resolver fetches packages together with their dependencies.
type Resolver struct {
	client *Client
}

// NewResolver creates a package resolver.
func NewResolver(client *Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve fetches refs and their transitive dependencies and returns them in load
// order: every package after its dependencies, each package once. A failing top-level
// package is an error; a failing dependency is logged and left out.
func (r *Resolver) Resolve(ctx context.Context, refs []loader.PackageRef) ([]loader.PackageRef, error) {
	st := &resolveState{seen: make(map[string]bool)}
	for _, ref := range refs {
		if err := r.visit(ctx, ref, st, true); err != nil {
			return nil, err
		}
	}
	return st.order, nil
}

type resolveState struct {
	seen  map[string]bool
	order []loader.PackageRef
}

func (r *Resolver) visit(ctx context.Context, ref loader.PackageRef, st *resolveState, required bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st.seen[ref.String()] {
		return nil
	}
	resolved, err := r.client.Fetch(ctx, ref)
	if err != nil {
		if required {
			return err
		}
		r.client.log.Warn().Str("package", ref.String()).Err(err).Msg("dependency not available")
		return nil
	}
	st.seen[ref.String()] = true
	if st.seen[resolved.String()] {
		return nil
	}
	st.seen[resolved.String()] = true

	manifest, err := r.client.Manifest(resolved)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(manifest.Dependencies))
	for name := range manifest.Dependencies {
		if !isSkippedDependency(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		dep := loader.PackageRef{Name: name, Version: manifest.Dependencies[name]}
		if err := r.visit(ctx, dep, st, false); err != nil {
			return err
		}
	}
	st.order = append(st.order, resolved)
	return nil
}

func isSkippedDependency(name string) bool {
	for _, prefix := range skippedDependencies {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
