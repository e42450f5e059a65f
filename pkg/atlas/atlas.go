// Package atlas indexes loaded conformance resources by kind, canonical URL and short id.
//
// The short id of a resource is the last segment of its canonical URL, or its id when it
// has no URL. The first resource registered under a URL or short id wins; later ones are
// reported as duplicates. Index order is load order, which the loader keeps lexical.
package atlas

import (
	"fmt"
	"sync"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/modelinfo/pkg/conformance"
	"github.com/gofhir/modelinfo/pkg/issue"
	"github.com/gofhir/modelinfo/pkg/loader"
	"github.com/gofhir/modelinfo/pkg/logger"
)

type entry struct {
	resource conformance.Resource
	source   string
}

// Atlas holds loaded conformance resources.
type Atlas struct {
	mu     sync.RWMutex
	log    *logger.Logger
	report *issue.Report

	byURL  map[string]entry
	byKind map[string]map[string]entry // kind -> short id -> entry
	order  map[string][]conformance.Resource
	byType map[string]*conformance.StructureDefinition
	count  int
}

// Option configures an Atlas.
type Option func(*Atlas)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(a *Atlas) {
		a.log = log
	}
}

// WithReport sets the report that receives indexing issues.
func WithReport(r *issue.Report) Option {
	return func(a *Atlas) {
		a.report = r
	}
}

// New creates an empty Atlas.
func New(opts ...Option) *Atlas {
	a := &Atlas{
		byURL:  make(map[string]entry),
		byKind: make(map[string]map[string]entry),
		order:  make(map[string][]conformance.Resource),
		byType: make(map[string]*conformance.StructureDefinition),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Default().With("atlas")
	}
	if a.report == nil {
		a.report = issue.NewReport()
	}
	return a
}

// Report returns the report indexing issues are written to.
func (a *Atlas) Report() *issue.Report {
	return a.report
}

// Load reads every resource under the given files and directories and indexes it.
func (a *Atlas) Load(paths ...string) error {
	l := loader.NewLoader("", loader.WithLogger(a.log), loader.WithReport(a.report))
	docs, err := l.LoadPaths(paths)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	a.IndexDocuments(docs)
	return nil
}

// LoadPackages indexes the documents of each package in order.
func (a *Atlas) LoadPackages(packages ...*loader.Package) {
	for _, pkg := range packages {
		if pkg == nil {
			continue
		}
		n := a.IndexDocuments(pkg.Documents)
		a.log.Debug().Str("package", loader.PackageRef{Name: pkg.Name, Version: pkg.Version}.String()).
			Int("indexed", n).Msg("indexed package")
	}
}

// IndexDocuments indexes loaded documents in order and returns how many were accepted.
func (a *Atlas) IndexDocuments(docs []loader.Document) int {
	accepted := 0
	for _, doc := range docs {
		if a.Index(doc.Resource, doc.Source) {
			accepted++
		}
	}
	return accepted
}

// IndexR4 indexes a typed R4 conformance resource. StructureDefinition,
// CompartmentDefinition and SearchParameter are supported.
func (a *Atlas) IndexR4(res r4.Resource) error {
	switch r := res.(type) {
	case *r4.StructureDefinition:
		return a.IndexR4StructureDefinition(r)
	case *r4.CompartmentDefinition:
		return a.IndexR4CompartmentDefinition(r)
	case *r4.SearchParameter:
		return a.IndexR4SearchParameter(r)
	case nil:
		return fmt.Errorf("nil resource")
	default:
		return fmt.Errorf("unsupported R4 resource %s", res.GetResourceType())
	}
}

// IndexR4StructureDefinition indexes a typed R4 StructureDefinition.
func (a *Atlas) IndexR4StructureDefinition(sd *r4.StructureDefinition) error {
	converted, err := conformance.FromR4(sd)
	if err != nil {
		return err
	}
	return a.indexConverted(converted)
}

// IndexR4CompartmentDefinition indexes a typed R4 CompartmentDefinition.
func (a *Atlas) IndexR4CompartmentDefinition(cd *r4.CompartmentDefinition) error {
	converted, err := conformance.FromR4CompartmentDefinition(cd)
	if err != nil {
		return err
	}
	return a.indexConverted(converted)
}

// IndexR4SearchParameter indexes a typed R4 SearchParameter.
func (a *Atlas) IndexR4SearchParameter(sp *r4.SearchParameter) error {
	converted, err := conformance.FromR4SearchParameter(sp)
	if err != nil {
		return err
	}
	return a.indexConverted(converted)
}

func (a *Atlas) indexConverted(res conformance.Resource) error {
	if !a.Index(res, "r4:"+ShortID(res)) {
		return fmt.Errorf("%s %s was not indexed", res.GetResourceType(), res.CanonicalURL())
	}
	return nil
}

// ShortID returns the last segment of the resource's canonical URL, or its id.
func ShortID(res conformance.Resource) string {
	if url := res.CanonicalURL(); url != "" {
		return conformance.LastSegment(url)
	}
	return res.ResourceID()
}

// Index registers a resource. It returns false when the resource was rejected as a
// duplicate or has no identity.
func (a *Atlas) Index(res conformance.Resource, source string) bool {
	if res == nil {
		return false
	}
	kind := res.GetResourceType()
	url := res.CanonicalURL()
	id := ShortID(res)

	if id == "" {
		a.log.Warn().Str("kind", kind).Str("source", source).Msg("resource has no url or id")
		a.report.AddWithID(issue.DiagIndexNoIdentity, "atlas", map[string]any{"kind": kind}, source)
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if url != "" {
		if existing, ok := a.byURL[url]; ok {
			a.log.Warn().Str("url", url).Str("source", source).Str("existing", existing.source).
				Msg("duplicate canonical url")
			a.report.AddWithID(issue.DiagIndexDuplicateURL, "atlas",
				map[string]any{"url": url, "kind": kind}, source)
			return false
		}
	}

	ids := a.byKind[kind]
	if ids == nil {
		ids = make(map[string]entry)
		a.byKind[kind] = ids
	}
	if existing, ok := ids[id]; ok {
		a.log.Warn().Str("kind", kind).Str("id", id).Str("url", url).
			Str("existing", existing.resource.CanonicalURL()).Msg("duplicate short id")
		a.report.AddWithID(issue.DiagIndexDuplicateID, "atlas", map[string]any{
			"kind":     kind,
			"id":       id,
			"url":      url,
			"existing": existing.resource.CanonicalURL(),
		}, source)
		return false
	}

	e := entry{resource: res, source: source}
	ids[id] = e
	if url != "" {
		a.byURL[url] = e
	}
	a.order[kind] = append(a.order[kind], res)
	a.count++

	if sd, ok := res.(*conformance.StructureDefinition); ok && sd.Type != "" && !sd.IsProfile() {
		if _, exists := a.byType[sd.Type]; !exists {
			a.byType[sd.Type] = sd
		}
	}
	return true
}

// StructureDefinition returns a StructureDefinition by short id.
func (a *Atlas) StructureDefinition(id string) (*conformance.StructureDefinition, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.byKind[conformance.TypeStructureDefinition][id]
	if !ok {
		return nil, false
	}
	return e.resource.(*conformance.StructureDefinition), true
}

// StructureDefinitionByURL returns a StructureDefinition by canonical URL. A trailing
// "|version" is ignored.
func (a *Atlas) StructureDefinitionByURL(url string) (*conformance.StructureDefinition, bool) {
	url = stripVersion(url)
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.byURL[url]
	if !ok {
		return nil, false
	}
	sd, ok := e.resource.(*conformance.StructureDefinition)
	return sd, ok
}

// TypeDefinition returns the defining (non-profile) StructureDefinition of a type.
func (a *Atlas) TypeDefinition(typeName string) (*conformance.StructureDefinition, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sd, ok := a.byType[typeName]
	return sd, ok
}

// StructureDefinitions returns all StructureDefinitions in index order.
func (a *Atlas) StructureDefinitions() []*conformance.StructureDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	list := a.order[conformance.TypeStructureDefinition]
	out := make([]*conformance.StructureDefinition, 0, len(list))
	for _, res := range list {
		out = append(out, res.(*conformance.StructureDefinition))
	}
	return out
}

// StructureDefinitionsByID returns a copy of the short-id lookup of StructureDefinitions.
func (a *Atlas) StructureDefinitionsByID() map[string]*conformance.StructureDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := a.byKind[conformance.TypeStructureDefinition]
	out := make(map[string]*conformance.StructureDefinition, len(ids))
	for id, e := range ids {
		out[id] = e.resource.(*conformance.StructureDefinition)
	}
	return out
}

// CompartmentDefinitions returns all CompartmentDefinitions in index order.
func (a *Atlas) CompartmentDefinitions() []*conformance.CompartmentDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	list := a.order[conformance.TypeCompartmentDefinition]
	out := make([]*conformance.CompartmentDefinition, 0, len(list))
	for _, res := range list {
		out = append(out, res.(*conformance.CompartmentDefinition))
	}
	return out
}

// ResolveSearchParameter returns the first indexed SearchParameter whose base contains
// resourceType and whose code (or name) is name.
func (a *Atlas) ResolveSearchParameter(resourceType, name string) (*conformance.SearchParameter, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, res := range a.order[conformance.TypeSearchParameter] {
		sp := res.(*conformance.SearchParameter)
		if sp.AppliesTo(resourceType) && sp.Matches(name) {
			return sp, true
		}
	}
	return nil, false
}

// Resources returns the resources of one kind in index order.
func (a *Atlas) Resources(kind string) []conformance.Resource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	list := a.order[kind]
	out := make([]conformance.Resource, len(list))
	copy(out, list)
	return out
}

// Count returns the number of indexed resources.
func (a *Atlas) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.count
}

func stripVersion(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '|' {
			return url[:i]
		}
		if url[i] == '/' {
			break
		}
	}
	return url
}
