package fhirmodelinfo

import (
	"strings"

	"github.com/gofhir/modelinfo/pkg/loader"
)

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
	// R5 is FHIR Release 5 (5.0.0)
	R5 FHIRVersion = "R5"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	switch v {
	case R4, R4B, R5:
		return true
	default:
		return false
	}
}

// ParseFHIRVersion accepts a release name ("R4", "r4b") or a specification version
// ("4.0.1").
func ParseFHIRVersion(s string) (FHIRVersion, bool) {
	if v := FHIRVersion(strings.ToUpper(strings.TrimSpace(s))); v.IsValid() {
		return v, true
	}
	for v, cfg := range versionConfigs {
		if cfg.FHIRVersionString == s {
			return v, true
		}
	}
	return "", false
}

// versionConfig holds version-specific configuration.
type versionConfig struct {
	// CorePackage is the FHIR core package name and version
	CorePackageName    string
	CorePackageVersion string

	// FHIRVersionString is the version string used in StructureDefinitions
	FHIRVersionString string
}

// versionConfigs maps FHIR versions to their configurations.
var versionConfigs = map[FHIRVersion]versionConfig{
	R4: {
		CorePackageName:    "hl7.fhir.r4.core",
		CorePackageVersion: "4.0.1",
		FHIRVersionString:  "4.0.1",
	},
	R4B: {
		CorePackageName:    "hl7.fhir.r4b.core",
		CorePackageVersion: "4.3.0",
		FHIRVersionString:  "4.3.0",
	},
	R5: {
		CorePackageName:    "hl7.fhir.r5.core",
		CorePackageVersion: "5.0.0",
		FHIRVersionString:  "5.0.0",
	},
}

// getVersionConfig returns the configuration for a FHIR version.
func getVersionConfig(v FHIRVersion) (versionConfig, bool) {
	cfg, ok := versionConfigs[v]
	return cfg, ok
}

// CorePackage returns the core package of a FHIR version, as found in the NPM cache.
func CorePackage(v FHIRVersion) (loader.PackageRef, bool) {
	cfg, ok := getVersionConfig(v)
	if !ok {
		return loader.PackageRef{}, false
	}
	return loader.PackageRef{Name: cfg.CorePackageName, Version: cfg.CorePackageVersion}, true
}

// SpecVersion returns the specification version string of a FHIR version, such as
// "4.0.1".
func SpecVersion(v FHIRVersion) string {
	return versionConfigs[v].FHIRVersionString
}
