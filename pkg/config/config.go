// Package config holds the static tables that steer model compilation: which model
// owns a canonical URL, how type names are aliased per model, and which properties
// count as a type's primary code path.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// Conversion is a curated conversion function between two fully qualified types.
type Conversion struct {
	FromType     string `mapstructure:"from" json:"fromType"`
	ToType       string `mapstructure:"to" json:"toType"`
	FunctionName string `mapstructure:"function" json:"functionName"`
}

// RequiredModel names another model this one depends on.
type RequiredModel struct {
	Name    string `mapstructure:"name" json:"name"`
	Version string `mapstructure:"version" json:"version"`
}

// ModelSettings configures one output model.
type ModelSettings struct {
	Name                         string
	Version                      string
	URL                          string
	TargetQualifier              string
	PatientClassName             string
	PatientBirthDatePropertyName string

	// ConversionFunctionPrefix is prepended to "To<Type>" for derived conversions.
	ConversionFunctionPrefix string

	// PrimitiveTypeMappings always apply; AliasMappings apply unless CQL
	// primitives are preserved. Both are keyed by fully qualified type name.
	PrimitiveTypeMappings map[string]string
	AliasMappings         map[string]string

	RequiredModels []RequiredModel
	Conversions    []Conversion
}

// MapType applies the model's type aliasing to a fully qualified type name.
func (m *ModelSettings) MapType(qualified string, preserveCQLPrimitives bool) string {
	if to, ok := m.PrimitiveTypeMappings[qualified]; ok {
		return to
	}
	if !preserveCQLPrimitives {
		if to, ok := m.AliasMappings[qualified]; ok {
			return to
		}
	}
	return qualified
}

// Settings is the complete compiler configuration.
type Settings struct {
	// PreserveCQLPrimitives disables alias mappings and bound-code type synthesis.
	PreserveCQLPrimitives bool

	// URLToModel maps a canonical URL prefix (the URL without its last two path
	// segments) to a model name.
	URLToModel map[string]string

	// PrimaryCodePath overrides the primary code path per type name.
	PrimaryCodePath map[string]string

	// CodeableTypes are the fully qualified types eligible as a primary code property.
	CodeableTypes map[string]bool

	// Models holds per-model settings; ModelOrder is the build order.
	Models     map[string]*ModelSettings
	ModelOrder []string
}

// Model returns the settings of a model.
func (s *Settings) Model(name string) (*ModelSettings, bool) {
	m, ok := s.Models[name]
	return m, ok
}

// ModelForURL returns the model owning a canonical URL. The URL's last two path
// segments are dropped and the remainder is looked up in URLToModel.
func (s *Settings) ModelForURL(url string) (string, bool) {
	prefix, ok := URLPrefix(url)
	if !ok {
		return "", false
	}
	model, ok := s.URLToModel[prefix]
	return model, ok
}

// PrimaryCodePathFor returns the configured primary code path override for a type.
func (s *Settings) PrimaryCodePathFor(typeName string) (string, bool) {
	p, ok := s.PrimaryCodePath[typeName]
	return p, ok
}

// IsCodeable reports whether a fully qualified type may be a primary code property.
func (s *Settings) IsCodeable(qualified string) bool {
	return s.CodeableTypes[qualified]
}

// AddModel registers (or replaces) a model and appends it to the build order.
func (s *Settings) AddModel(m *ModelSettings) {
	if s.Models == nil {
		s.Models = make(map[string]*ModelSettings)
	}
	if _, exists := s.Models[m.Name]; !exists {
		s.ModelOrder = append(s.ModelOrder, m.Name)
	}
	s.Models[m.Name] = m
}

// Select restricts the build order to the named models, keeping the configured order.
func (s *Settings) Select(names []string) error {
	if len(names) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := s.Models[n]; !ok {
			return fmt.Errorf("unknown model %q (configured: %s)", n, strings.Join(s.ModelOrder, ", "))
		}
		wanted[n] = true
	}
	order := s.ModelOrder[:0:0]
	for _, n := range s.ModelOrder {
		if wanted[n] {
			order = append(order, n)
		}
	}
	s.ModelOrder = order
	return nil
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if len(s.ModelOrder) == 0 {
		return fmt.Errorf("no models configured")
	}
	owned := make(map[string]bool, len(s.URLToModel))
	for _, model := range s.URLToModel {
		owned[model] = true
	}
	for _, name := range s.ModelOrder {
		m, ok := s.Models[name]
		if !ok {
			return fmt.Errorf("model %q is in the build order but has no settings", name)
		}
		if m.Name != name {
			return fmt.Errorf("model %q settings are named %q", name, m.Name)
		}
		if !owned[name] {
			return fmt.Errorf("model %q owns no canonical URL prefix", name)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	out := &Settings{
		PreserveCQLPrimitives: s.PreserveCQLPrimitives,
		URLToModel:            cloneMap(s.URLToModel),
		PrimaryCodePath:       cloneMap(s.PrimaryCodePath),
		CodeableTypes:         make(map[string]bool, len(s.CodeableTypes)),
		Models:                make(map[string]*ModelSettings, len(s.Models)),
		ModelOrder:            append([]string(nil), s.ModelOrder...),
	}
	for k, v := range s.CodeableTypes {
		out.CodeableTypes[k] = v
	}
	for name, m := range s.Models {
		c := *m
		c.PrimitiveTypeMappings = cloneMap(m.PrimitiveTypeMappings)
		c.AliasMappings = cloneMap(m.AliasMappings)
		c.RequiredModels = append([]RequiredModel(nil), m.RequiredModels...)
		c.Conversions = append([]Conversion(nil), m.Conversions...)
		out.Models[name] = &c
	}
	return out
}

// CodeableTypeList returns the codeable types sorted.
func (s *Settings) CodeableTypeList() []string {
	out := make([]string, 0, len(s.CodeableTypes))
	for t, ok := range s.CodeableTypes {
		if ok {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// URLPrefix drops the last two path segments of a canonical URL
// ("http://hl7.org/fhir/StructureDefinition/Patient" becomes "http://hl7.org/fhir").
// A "|version" suffix is ignored.
func URLPrefix(url string) (string, bool) {
	if i := strings.LastIndexByte(url, '|'); i >= 0 {
		url = url[:i]
	}
	for n := 0; n < 2; n++ {
		i := strings.LastIndexByte(url, '/')
		if i <= 0 {
			return "", false
		}
		url = url[:i]
	}
	if url == "" || strings.HasSuffix(url, "/") || strings.HasSuffix(url, ":") {
		return "", false
	}
	return url, true
}

func cloneMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
