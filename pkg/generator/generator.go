// Package generator runs the whole compilation: load and index the inputs, build the
// type registry model by model, derive contexts, and assemble one ModelInfo per model.
package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/gofhir/fhir/r4"

	fv "github.com/gofhir/modelinfo"
	"github.com/gofhir/modelinfo/pkg/atlas"
	"github.com/gofhir/modelinfo/pkg/builder"
	"github.com/gofhir/modelinfo/pkg/config"
	"github.com/gofhir/modelinfo/pkg/contexts"
	"github.com/gofhir/modelinfo/pkg/issue"
	"github.com/gofhir/modelinfo/pkg/loader"
	"github.com/gofhir/modelinfo/pkg/logger"
	"github.com/gofhir/modelinfo/pkg/modelinfo"
	"github.com/gofhir/modelinfo/registry"
)

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(g *Generator) {
		g.log = log
	}
}

// WithReport sets the report shared by every phase.
func WithReport(r *issue.Report) Option {
	return func(g *Generator) {
		g.report = r
	}
}

// WithSettings replaces the built-in settings.
func WithSettings(s *config.Settings) Option {
	return func(g *Generator) {
		g.settings = s
	}
}

// WithModels restricts the build to the named models, kept in configured order.
func WithModels(names ...string) Option {
	return func(g *Generator) {
		g.models = append(g.models, names...)
	}
}

// WithInputs adds files and directories to load.
func WithInputs(paths ...string) Option {
	return func(g *Generator) {
		g.inputs = append(g.inputs, paths...)
	}
}

// WithResources adds typed R4 conformance resources, indexed after every other input.
// StructureDefinition, CompartmentDefinition and SearchParameter are accepted.
func WithResources(res ...r4.Resource) Option {
	return func(g *Generator) {
		g.resources = append(g.resources, res...)
	}
}

// WithPackages adds "name#version" packages to load from the package cache.
func WithPackages(specs ...string) Option {
	return func(g *Generator) {
		g.packages = append(g.packages, specs...)
	}
}

// WithPackageURLs adds .tgz packages to download.
func WithPackageURLs(urls ...string) Option {
	return func(g *Generator) {
		g.urls = append(g.urls, urls...)
	}
}

// WithPackagePath sets the package cache directory.
func WithPackagePath(path string) Option {
	return func(g *Generator) {
		g.packagePath = path
	}
}

// WithFetch downloads missing packages, and their dependencies, from a FHIR package
// registry into the package cache before loading them. An empty url selects
// registry.DefaultRegistryURL.
func WithFetch(url string) Option {
	return func(g *Generator) {
		g.fetch = true
		g.registryURL = url
	}
}

// WithFHIRVersion loads the core package of a FHIR version from the package cache
// before any other input.
func WithFHIRVersion(v fv.FHIRVersion) Option {
	return func(g *Generator) {
		g.fhirVersion = v
	}
}

// WithWorkers sets the number of parallel file parsers.
func WithWorkers(n int) Option {
	return func(g *Generator) {
		g.workers = n
	}
}

// WithPreserveCQLPrimitives overrides the settings' PreserveCQLPrimitives flag.
func WithPreserveCQLPrimitives(preserve bool) Option {
	return func(g *Generator) {
		g.preserve = &preserve
	}
}

// Generator wires the loader, index, builders and assembler together.
type Generator struct {
	log      *logger.Logger
	report   *issue.Report
	settings *config.Settings
	metrics  *Metrics
	atlas    *atlas.Atlas

	models      []string
	inputs      []string
	resources   []r4.Resource
	packages    []string
	urls        []string
	packagePath string
	fhirVersion fv.FHIRVersion
	workers     int
	preserve    *bool
	fetch       bool
	registryURL string
}

// Result is the output of a run.
type Result struct {
	Registry  *modelinfo.Registry
	Models    []*modelinfo.ModelInfo
	Summaries []builder.Summary
	Report    *issue.Report
	Metrics   Snapshot
}

// Model returns the assembled document of one model.
func (r *Result) Model(name string) (*modelinfo.ModelInfo, bool) {
	for _, m := range r.Models {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// New creates a Generator. The settings are copied, so a run never alters the caller's.
func New(opts ...Option) (*Generator, error) {
	g := &Generator{metrics: NewMetrics()}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Default()
	}
	if g.report == nil {
		g.report = issue.NewReport()
	}
	if g.settings == nil {
		g.settings = config.Default()
	} else {
		g.settings = g.settings.Clone()
	}
	if g.preserve != nil {
		g.settings.PreserveCQLPrimitives = *g.preserve
	}
	if len(g.models) > 0 {
		if err := g.settings.Select(g.models); err != nil {
			return nil, err
		}
	}
	if err := g.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if g.fhirVersion != "" && !g.fhirVersion.IsValid() {
		return nil, fmt.Errorf("unsupported FHIR version %q", g.fhirVersion)
	}
	g.atlas = atlas.New(atlas.WithLogger(g.log.With("atlas")), atlas.WithReport(g.report))
	return g, nil
}

// Atlas returns the index the generator loads into.
func (g *Generator) Atlas() *atlas.Atlas {
	return g.atlas
}

// Settings returns the effective settings.
func (g *Generator) Settings() *config.Settings {
	return g.settings
}

// Run executes every phase. Cancellation is checked between phases and between
// models.
func (g *Generator) Run(ctx context.Context) (*Result, error) {
	if err := g.phase(ctx, PhaseLoad, g.load); err != nil {
		return nil, err
	}

	reg := modelinfo.NewRegistry()
	res := &Result{Registry: reg, Report: g.report}

	err := g.phase(ctx, PhaseBuild, func(ctx context.Context) error {
		b := builder.New(g.atlas, reg, g.settings,
			builder.WithLogger(g.log.With("builder")), builder.WithReport(g.report))
		for _, model := range g.settings.ModelOrder {
			if err := ctx.Err(); err != nil {
				return err
			}
			sum := b.BuildFor(model, nil)
			g.metrics.RecordBuild(sum.Built, sum.Skipped, sum.Synthesized)
			res.Summaries = append(res.Summaries, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var derived map[string][]modelinfo.ContextInfo
	err = g.phase(ctx, PhaseContexts, func(context.Context) error {
		cb := contexts.New(g.atlas, reg, g.settings,
			contexts.WithLogger(g.log.With("contexts")), contexts.WithReport(g.report))
		derived = cb.Build(g.settings.ModelOrder)
		for _, list := range derived {
			g.metrics.RecordContexts(len(list))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = g.phase(ctx, PhaseAssemble, func(context.Context) error {
		for _, model := range g.settings.ModelOrder {
			ms, _ := g.settings.Model(model)
			res.Models = append(res.Models, modelinfo.Assemble(reg, ms, derived[model]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Metrics = g.metrics.Snapshot()
	g.log.Info().Uint64("indexed", res.Metrics.DocumentsIndexed).Uint64("built", res.Metrics.TypesBuilt).
		Uint64("skipped", res.Metrics.TypesSkipped).Int("issues", g.report.Len()).Msg("generation complete")
	return res, nil
}

// phase runs fn after checking ctx and records its duration and new issues.
func (g *Generator) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	start := time.Now()
	before := g.report.Len()
	err := fn(ctx)
	g.metrics.RecordPhase(name, time.Since(start), g.report.Len()-before)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	g.log.Debug().Str("phase", name).Dur("elapsed", time.Since(start)).Msg("phase complete")
	return nil
}

// load indexes the core package, cached packages, package files and URLs, plain
// inputs, then typed resources, in that order.
func (g *Generator) load(ctx context.Context) error {
	l := loader.NewLoader(g.packagePath,
		loader.WithLogger(g.log.With("loader")),
		loader.WithReport(g.report),
		loader.WithWorkers(g.workers),
	)

	var refs []loader.PackageRef
	if g.fhirVersion != "" {
		ref, _ := fv.CorePackage(g.fhirVersion)
		refs = append(refs, ref)
	}
	for _, spec := range g.packages {
		name, version := loader.ParsePackageSpec(spec)
		refs = append(refs, loader.PackageRef{Name: name, Version: version})
	}
	if g.fetch && len(refs) > 0 {
		resolved, err := g.resolve(ctx, l.BasePath(), refs)
		if err != nil {
			return err
		}
		refs = resolved
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkg, err := l.LoadPackageRef(ref)
		if err != nil {
			return fmt.Errorf("package %s: %w", ref, err)
		}
		g.index(pkg.Documents, ref.String())
	}

	for _, url := range g.urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkg, err := l.LoadFromURL(url)
		if err != nil {
			return fmt.Errorf("package %s: %w", url, err)
		}
		g.index(pkg.Documents, url)
	}

	if len(g.inputs) > 0 {
		docs, err := l.LoadPaths(g.inputs)
		if err != nil {
			return err
		}
		g.index(docs, "inputs")
	}

	if len(g.resources) > 0 {
		n := 0
		for _, res := range g.resources {
			if err := g.atlas.IndexR4(res); err != nil {
				g.log.Warn().Err(err).Msg("typed resource not indexed")
				continue
			}
			n++
		}
		g.metrics.RecordIndexed(n)
		g.log.Info().Str("source", "resources").Int("documents", len(g.resources)).Int("indexed", n).Msg("indexed")
	}
	return nil
}

// resolve fetches refs and their dependencies into the package cache at dir and
// returns them in load order.
func (g *Generator) resolve(ctx context.Context, dir string, refs []loader.PackageRef) ([]loader.PackageRef, error) {
	opts := []registry.ClientOption{
		registry.WithCacheDir(dir),
		registry.WithLogger(g.log.With("registry")),
	}
	if g.registryURL != "" {
		opts = append(opts, registry.WithRegistryURL(g.registryURL))
	}
	resolved, err := registry.NewResolver(registry.NewClient(opts...)).Resolve(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("fetch packages: %w", err)
	}
	return resolved, nil
}

func (g *Generator) index(docs []loader.Document, source string) {
	n := g.atlas.IndexDocuments(docs)
	g.metrics.RecordIndexed(n)
	g.log.Info().Str("source", source).Int("documents", len(docs)).Int("indexed", n).Msg("indexed")
}
