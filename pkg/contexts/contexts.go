// Package contexts derives retrieval contexts from CompartmentDefinitions.
//
// Each compartment (Patient, Encounter, ...) becomes a context of every built model that
// defines the compartment's type. The compartment's search parameters are resolved to
// the element that links each member resource to the context, and that link is recorded
// as a relationship on the member's type entry.
package contexts

import (
	"strings"

	"github.com/gofhir/fhirpath"

	"github.com/gofhir/modelinfo/pkg/atlas"
	"github.com/gofhir/modelinfo/pkg/cache"
	"github.com/gofhir/modelinfo/pkg/config"
	"github.com/gofhir/modelinfo/pkg/conformance"
	"github.com/gofhir/modelinfo/pkg/issue"
	"github.com/gofhir/modelinfo/pkg/logger"
	"github.com/gofhir/modelinfo/pkg/modelinfo"
)

const (
	keyElement     = "id"
	patientContext = "Patient"
)

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(b *Builder) {
		b.log = log
	}
}

// WithReport sets the report that receives skipped contexts and parameters.
func WithReport(r *issue.Report) Option {
	return func(b *Builder) {
		b.report = r
	}
}

// Builder derives contexts over a completed registry.
type Builder struct {
	atlas    *atlas.Atlas
	registry *modelinfo.Registry
	settings *config.Settings
	log      *logger.Logger
	report   *issue.Report

	// Compiled SearchParameter expressions, failures included.
	exprCache *cache.Memo[string, *fhirpath.Expression]
}

// New creates a context Builder.
func New(a *atlas.Atlas, reg *modelinfo.Registry, settings *config.Settings, opts ...Option) *Builder {
	b := &Builder{
		atlas:     a,
		registry:  reg,
		settings:  settings,
		exprCache: cache.NewMemo(func(expr string) (*fhirpath.Expression, error) {
			return fhirpath.Compile(expr)
		}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Default().With("contexts")
	}
	if b.report == nil {
		b.report = issue.NewReport()
	}
	return b
}

// Build derives the contexts of every model in models, keyed by model name. Compartments
// are processed in index order.
func (b *Builder) Build(models []string) map[string][]modelinfo.ContextInfo {
	out := make(map[string][]modelinfo.ContextInfo, len(models))
	compartments := b.atlas.CompartmentDefinitions()
	for _, model := range models {
		ms, ok := b.settings.Model(model)
		if !ok {
			continue
		}
		for _, cd := range compartments {
			ctx, ok := b.context(ms, cd)
			if !ok {
				continue
			}
			out[model] = append(out[model], ctx)
			b.relate(ms, cd)
		}
		b.log.Debug().Str("model", model).Int("contexts", len(out[model])).Msg("contexts built")
	}
	return out
}

// context builds the ContextInfo of one compartment, or reports it when the model does
// not define the compartment's type.
func (b *Builder) context(ms *config.ModelSettings, cd *conformance.CompartmentDefinition) (modelinfo.ContextInfo, bool) {
	ctx := modelinfo.ContextInfo{
		Name:        cd.Code,
		KeyElement:  keyElement,
		ContextType: modelinfo.NamedType{Model: ms.Name, Name: cd.Code},
	}
	if cd.Code == patientContext && ms.PatientClassName != "" {
		ctx.ContextType = modelinfo.ParseNamed(ms.PatientClassName)
		ctx.BirthDateElement = ms.PatientBirthDatePropertyName
	}
	if _, ok := b.registry.Get(ctx.ContextType.Qualified()); !ok {
		b.log.Debug().Str("model", ms.Name).Str("context", cd.Code).Msg("context type not built")
		b.report.AddWithID(issue.DiagContextTypeMissing, "contexts",
			map[string]any{"code": cd.Code, "type": ctx.ContextType.Qualified()}, cd.URL)
		return modelinfo.ContextInfo{}, false
	}
	return ctx, true
}

// relate records a relationship to the compartment on every member resource type the
// model defines.
func (b *Builder) relate(ms *config.ModelSettings, cd *conformance.CompartmentDefinition) {
	for _, res := range cd.Resource {
		key := modelinfo.Key(ms.Name, res.Code)
		if _, ok := b.registry.Get(key); !ok {
			continue
		}
		for _, param := range res.Param {
			element, ok := b.relatedKeyElement(res.Code, param)
			if !ok {
				continue
			}
			rel := modelinfo.Relationship{Context: cd.Code, RelatedKeyElement: element}
			b.registry.Update(key, func(e *modelinfo.TypeEntry) {
				e.AddRelationship(rel)
			})
		}
	}
}

// relatedKeyElement resolves a compartment parameter of a resource type to the element
// it searches on.
func (b *Builder) relatedKeyElement(resourceType, param string) (string, bool) {
	sp, ok := b.atlas.ResolveSearchParameter(resourceType, param)
	if !ok {
		b.report.AddWithID(issue.DiagContextSearchParamMissing, "contexts",
			map[string]any{"name": param, "resource": resourceType}, resourceType)
		return "", false
	}

	if sp.Expression != "" {
		if _, err := b.compile(sp.Expression); err == nil {
			if element, ok := ExpressionKeyElement(sp.Expression, resourceType); ok {
				return element, true
			}
		} else {
			b.log.Debug().Str("parameter", sp.URL).Err(err).Msg("expression does not compile, trying xpath")
			if sp.Xpath == "" {
				b.reportInvalid(sp, resourceType, err.Error())
				return "", false
			}
		}
	}
	if sp.Xpath != "" {
		if element, ok := XpathKeyElement(sp.Xpath, resourceType); ok {
			return element, true
		}
	}
	b.reportInvalid(sp, resourceType, "no path rooted at "+resourceType)
	return "", false
}

func (b *Builder) reportInvalid(sp *conformance.SearchParameter, resourceType, reason string) {
	expr := sp.Expression
	if expr == "" {
		expr = sp.Xpath
	}
	b.report.AddWithID(issue.DiagContextExpressionInvalid, "contexts",
		map[string]any{"name": sp.Code, "expression": expr, "error": reason}, resourceType)
}

// compile returns the cached outcome of compiling expression.
func (b *Builder) compile(expression string) (*fhirpath.Expression, error) {
	return b.exprCache.Get(expression)
}

// CacheSize returns the number of cached expressions.
func (b *Builder) CacheSize() int {
	return b.exprCache.Len()
}

// ExpressionKeyElement returns the last path segment of the union branch of a FHIRPath
// expression rooted at resourceType. Filters (where, ofType, as) and resolve() are
// dropped, so "Observation.subject.where(resolve() is Patient)" yields "subject".
func ExpressionKeyElement(expression, resourceType string) (string, bool) {
	for _, branch := range splitTopLevel(expression, '|') {
		branch = trimParens(strings.TrimSpace(branch))
		if !strings.HasPrefix(branch, resourceType+".") {
			continue
		}
		path := stripFunctions(branch)
		if i := strings.Index(path, " as "); i >= 0 {
			path = path[:i]
		}
		path = strings.TrimSpace(path)
		segs := strings.Split(path, ".")
		if len(segs) < 2 || segs[len(segs)-1] == "" {
			continue
		}
		return segs[len(segs)-1], true
	}
	return "", false
}

// XpathKeyElement is ExpressionKeyElement for the legacy xpath form, such as
// "f:Observation/f:subject | f:Group/f:member/f:entity".
func XpathKeyElement(xpath, resourceType string) (string, bool) {
	for _, branch := range splitTopLevel(xpath, '|') {
		branch = trimParens(strings.TrimSpace(branch))
		if i := strings.IndexByte(branch, '['); i >= 0 {
			branch = branch[:i]
		}
		segs := strings.Split(branch, "/")
		for i := range segs {
			segs[i] = strings.TrimPrefix(strings.TrimSpace(segs[i]), "f:")
		}
		if len(segs) < 2 || segs[0] != resourceType || segs[len(segs)-1] == "" {
			continue
		}
		return segs[len(segs)-1], true
	}
	return "", false
}

// splitTopLevel splits s at sep outside parentheses and quotes.
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		depth int
		quote bool
		start int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			quote = !quote
		case quote:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// trimParens removes parentheses enclosing the whole of s.
func trimParens(s string) string {
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' && closing(s, 0) == len(s)-1 {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

// stripFunctions cuts path at its first function call, keeping the member path that
// leads to it.
func stripFunctions(path string) string {
	for {
		open := strings.IndexByte(path, '(')
		if open < 0 {
			return path
		}
		dot := strings.LastIndexByte(path[:open], '.')
		if dot < 0 {
			return path[:open]
		}
		end := closing(path, open)
		if end < 0 {
			return path[:dot]
		}
		path = path[:dot] + path[end+1:]
	}
}

// closing returns the index of the parenthesis matching the one at open, or -1.
func closing(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
