// Package builder compiles StructureDefinitions into the type registry.
//
// Each document is walked once. The entries it produces (its own type, synthesized
// component types and bound code types) are staged in a document scope and committed
// to the registry only when the whole document, including content-reference
// resolution, succeeded. A failing document is reported and omitted.
package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofhir/modelinfo/pkg/atlas"
	"github.com/gofhir/modelinfo/pkg/config"
	"github.com/gofhir/modelinfo/pkg/conformance"
	"github.com/gofhir/modelinfo/pkg/issue"
	"github.com/gofhir/modelinfo/pkg/logger"
	"github.com/gofhir/modelinfo/pkg/modelinfo"
)

// Errors returned for a document that cannot be built.
var (
	ErrModelUnresolved            = errors.New("model unresolved")
	ErrContentReferenceUnresolved = errors.New("content reference unresolved")
	ErrBaseTypeUnresolved         = errors.New("base type unresolved")
)

// Predicate selects the documents a build considers.
type Predicate func(sd *conformance.StructureDefinition) bool

// Summary counts the outcome of one BuildFor run.
type Summary struct {
	Model       string
	Considered  int
	Built       int
	Skipped     int
	Synthesized int
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(b *Builder) {
		b.log = log
	}
}

// WithReport sets the report that receives skipped documents and warnings.
func WithReport(r *issue.Report) Option {
	return func(b *Builder) {
		b.report = r
	}
}

// WithPreserveCQLPrimitives overrides the settings' PreserveCQLPrimitives flag.
func WithPreserveCQLPrimitives(preserve bool) Option {
	return func(b *Builder) {
		b.preserve = preserve
	}
}

// Builder compiles documents from an Atlas into a Registry.
type Builder struct {
	atlas    *atlas.Atlas
	registry *modelinfo.Registry
	settings *config.Settings
	log      *logger.Logger
	report   *issue.Report
	preserve bool
}

// New creates a Builder.
func New(a *atlas.Atlas, reg *modelinfo.Registry, settings *config.Settings, opts ...Option) *Builder {
	b := &Builder{
		atlas:    a,
		registry: reg,
		settings: settings,
		preserve: settings.PreserveCQLPrimitives,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Default().With("builder")
	}
	if b.report == nil {
		b.report = issue.NewReport()
	}
	return b
}

// Registry returns the registry being built.
func (b *Builder) Registry() *modelinfo.Registry {
	return b.registry
}

// DefaultPredicate selects the documents owned by model, leaving out extension
// definitions, logical models, and profiles of types defined in the same model.
func (b *Builder) DefaultPredicate(model string) Predicate {
	return func(sd *conformance.StructureDefinition) bool {
		owner, ok := b.settings.ModelForURL(sd.URL)
		if !ok || owner != model {
			return false
		}
		if sd.Kind == conformance.KindLogical {
			return false
		}
		if !sd.IsProfile() {
			return true
		}
		if sd.Type == "Extension" {
			return false
		}
		if def, ok := b.atlas.TypeDefinition(sd.Type); ok {
			if defModel, ok := b.settings.ModelForURL(def.URL); ok && defModel == model {
				return false
			}
		}
		return true
	}
}

// BuildFor builds every indexed document matching pred, in index order, into model.
// A nil pred uses DefaultPredicate.
func (b *Builder) BuildFor(model string, pred Predicate) Summary {
	if pred == nil {
		pred = b.DefaultPredicate(model)
	}
	sum := Summary{Model: model}
	for _, sd := range b.atlas.StructureDefinitions() {
		if !pred(sd) {
			continue
		}
		sum.Considered++
		synthesized, err := b.build(sd, model)
		if err != nil {
			sum.Skipped++
			b.reportFailure(sd, err)
			continue
		}
		sum.Built++
		sum.Synthesized += synthesized
	}
	b.log.Info().Str("model", model).Int("built", sum.Built).Int("skipped", sum.Skipped).
		Int("synthesized", sum.Synthesized).Msg("model built")
	return sum
}

// Build compiles a single document. An empty model is resolved from the document's
// canonical URL. On success the document's entries are committed and its own entry
// is returned.
func (b *Builder) Build(sd *conformance.StructureDefinition, model string) (*modelinfo.TypeEntry, error) {
	if _, err := b.build(sd, model); err != nil {
		return nil, err
	}
	entry, _ := b.registry.Lookup(b.resolvedModel(sd, model), sd.Type)
	return entry, nil
}

func (b *Builder) resolvedModel(sd *conformance.StructureDefinition, model string) string {
	if model != "" {
		return model
	}
	m, _ := b.settings.ModelForURL(sd.URL)
	return m
}

// build walks one document and commits its scope. It returns the number of
// synthesized entries.
func (b *Builder) build(sd *conformance.StructureDefinition, model string) (synthesized int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while building %s: %v", sd.URL, r)
		}
	}()

	model = b.resolvedModel(sd, model)
	if model == "" {
		return 0, fmt.Errorf("%w: %s", ErrModelUnresolved, sd.URL)
	}
	ms, ok := b.settings.Model(model)
	if !ok {
		return 0, fmt.Errorf("%w: model %q has no settings", ErrModelUnresolved, model)
	}

	w := newWalker(b, sd, ms)
	entry, err := w.walkDocument()
	if err != nil {
		return 0, err
	}
	if err := w.resolveContentReferences(); err != nil {
		return 0, err
	}
	if err := b.finalize(sd, entry); err != nil {
		return 0, err
	}

	for _, key := range w.scope.order {
		b.registry.Put(w.scope.entries[key])
	}
	b.log.Debug().Str("url", sd.URL).Str("type", entry.Key()).Int("properties", len(entry.Properties)).
		Int("synthesized", w.scope.synthesized).Msg("built")
	return w.scope.synthesized, nil
}

// finalize sets the base type, retrievability, label and primary code path.
func (b *Builder) finalize(sd *conformance.StructureDefinition, entry *modelinfo.TypeEntry) error {
	if sd.BaseDefinition != "" {
		base, ok := b.atlas.StructureDefinitionByURL(sd.BaseDefinition)
		if !ok {
			return fmt.Errorf("%w: %s is not loaded", ErrBaseTypeUnresolved, sd.BaseDefinition)
		}
		baseModel, ok := b.settings.ModelForURL(base.URL)
		if !ok || base.Type == "" {
			return fmt.Errorf("%w: no model owns %s", ErrBaseTypeUnresolved, base.URL)
		}
		entry.BaseType = modelinfo.Key(baseModel, base.Type)
	}
	entry.Retrievable = sd.Kind == conformance.KindResource
	entry.Label = sd.Title
	entry.Identifier = sd.URL
	entry.PrimaryCodePath = b.primaryCodePath(entry)
	return nil
}

// primaryCodePath returns the configured override, or the first property named
// "code" whose type is codeable.
func (b *Builder) primaryCodePath(entry *modelinfo.TypeEntry) string {
	if p, ok := b.settings.PrimaryCodePathFor(entry.Name); ok {
		return p
	}
	for _, p := range entry.Properties {
		if !strings.EqualFold(p.Name, "code") {
			continue
		}
		if n, ok := modelinfo.ElementType(p.Type).(modelinfo.NamedType); ok && b.settings.IsCodeable(n.Qualified()) {
			return p.Name
		}
	}
	return ""
}

func (b *Builder) reportFailure(sd *conformance.StructureDefinition, err error) {
	b.log.Warn().Str("url", sd.URL).Err(err).Msg("skipping StructureDefinition")

	id := sd.ID
	if id == "" {
		id = sd.URL
	}
	switch {
	case errors.Is(err, ErrModelUnresolved):
		b.report.AddWithID(issue.DiagBuildModelUnresolved, "builder", map[string]any{"url": sd.URL}, sd.URL)
	case errors.Is(err, ErrBaseTypeUnresolved):
		b.report.AddWithID(issue.DiagBuildBaseTypeUnresolved, "builder",
			map[string]any{"base": sd.BaseDefinition, "id": id}, sd.URL)
	case errors.Is(err, ErrContentReferenceUnresolved):
		var ref *referenceError
		reference := err.Error()
		if errors.As(err, &ref) {
			reference = ref.reference
		}
		b.report.AddWithID(issue.DiagBuildContentRefUnresolved, "builder",
			map[string]any{"reference": reference, "id": id}, sd.URL)
	default:
		b.report.AddWithID(issue.DiagBuildDocumentFailed, "builder",
			map[string]any{"id": id, "error": err.Error()}, sd.URL)
	}
}
