package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MODELINFO_PRESERVECQLPRIMITIVES=true.
const EnvPrefix = "MODELINFO"

// Mapping is one from/to pair of a settings file table. Tables are lists rather than
// maps because settings keys are case-insensitive and type names are not.
type Mapping struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// FileModel is one model entry of a settings file.
type FileModel struct {
	Name                         string          `mapstructure:"name"`
	Version                      string          `mapstructure:"version"`
	URL                          string          `mapstructure:"url"`
	TargetQualifier              string          `mapstructure:"targetQualifier"`
	PatientClassName             string          `mapstructure:"patientClassName"`
	PatientBirthDatePropertyName string          `mapstructure:"patientBirthDatePropertyName"`
	ConversionFunctionPrefix     string          `mapstructure:"conversionFunctionPrefix"`
	PrimitiveTypeMappings        []Mapping       `mapstructure:"primitiveTypeMappings"`
	AliasMappings                []Mapping       `mapstructure:"aliasMappings"`
	RequiredModels               []RequiredModel `mapstructure:"requiredModels"`
	Conversions                  []Conversion    `mapstructure:"conversions"`
}

// File is the on-disk settings layout. Everything in it is merged over Default.
type File struct {
	PreserveCQLPrimitives bool        `mapstructure:"preserveCQLPrimitives"`
	URLToModel            []Mapping   `mapstructure:"urlToModel"`
	PrimaryCodePath       []Mapping   `mapstructure:"primaryCodePath"`
	CodeableTypes         []string    `mapstructure:"codeableTypes"`
	Models                []FileModel `mapstructure:"models"`

	// Build restricts and orders the models to build.
	Build []string `mapstructure:"build"`
}

// LoadFile reads a YAML, JSON or TOML settings file (chosen by extension) and merges it
// over the defaults. An empty path loads only the defaults and environment overrides.
func LoadFile(path string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("preserveCQLPrimitives", false)
	_ = v.BindEnv("preserveCQLPrimitives")
	_ = v.BindEnv("build")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	// A comma-separated environment value arrives as a single string.
	if len(f.Build) == 1 && strings.Contains(f.Build[0], ",") {
		f.Build = strings.Split(f.Build[0], ",")
	}

	s := Default()
	if err := s.Apply(&f); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Apply merges a settings file into s. Models named in the file are updated field by
// field; unknown models are added after the built-in ones.
func (s *Settings) Apply(f *File) error {
	if f.PreserveCQLPrimitives {
		s.PreserveCQLPrimitives = true
	}
	for _, m := range f.URLToModel {
		if m.From == "" || m.To == "" {
			return fmt.Errorf("urlToModel entry needs both from and to")
		}
		s.URLToModel[strings.TrimSuffix(m.From, "/")] = m.To
	}
	for _, m := range f.PrimaryCodePath {
		if m.To == "" {
			delete(s.PrimaryCodePath, m.From)
			continue
		}
		s.PrimaryCodePath[m.From] = m.To
	}
	if len(f.CodeableTypes) > 0 {
		s.CodeableTypes = make(map[string]bool, len(f.CodeableTypes))
		for _, t := range f.CodeableTypes {
			s.CodeableTypes[t] = true
		}
	}

	for _, fm := range f.Models {
		if fm.Name == "" {
			return fmt.Errorf("model entry without a name")
		}
		m, ok := s.Models[fm.Name]
		if !ok {
			m = &ModelSettings{
				Name:                  fm.Name,
				PrimitiveTypeMappings: map[string]string{},
				AliasMappings:         map[string]string{},
			}
			s.AddModel(m)
		}
		m.apply(&fm)
	}

	return s.Select(f.Build)
}

func (m *ModelSettings) apply(fm *FileModel) {
	setIf(&m.Version, fm.Version)
	setIf(&m.URL, fm.URL)
	setIf(&m.TargetQualifier, fm.TargetQualifier)
	setIf(&m.PatientClassName, fm.PatientClassName)
	setIf(&m.PatientBirthDatePropertyName, fm.PatientBirthDatePropertyName)
	setIf(&m.ConversionFunctionPrefix, fm.ConversionFunctionPrefix)
	for _, mp := range fm.PrimitiveTypeMappings {
		m.PrimitiveTypeMappings[mp.From] = mp.To
	}
	for _, mp := range fm.AliasMappings {
		m.AliasMappings[mp.From] = mp.To
	}
	if len(fm.RequiredModels) > 0 {
		m.RequiredModels = fm.RequiredModels
	}
	m.Conversions = append(m.Conversions, fm.Conversions...)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
