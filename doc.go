// Package fhirmodelinfo compiles FHIR StructureDefinitions into CQL ModelInfo type
// registries.
//
// A run loads conformance resources once, builds one model at a time against a shared
// type registry (the base model first, profile models after), derives evaluation
// contexts from CompartmentDefinitions and assembles one ModelInfo document per model.
//
// # Quick Start
//
//	import (
//	    fv "github.com/gofhir/modelinfo"
//	    "github.com/gofhir/modelinfo/pkg/generator"
//	)
//
//	g, err := generator.New(
//	    generator.WithFHIRVersion(fv.R4),
//	    generator.WithPackages("hl7.fhir.us.core#6.1.0"),
//	    generator.WithModels("FHIR", "USCore"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := g.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, m := range res.Models {
//	    out, _ := json.MarshalIndent(m, "", "  ")
//	    fmt.Println(string(out))
//	}
//
// # Skip Log
//
// A document that cannot be compiled is omitted and recorded in the run's
// issue.Report; it never stops the run. Only missing inputs, invalid settings and
// cancellation make Run return an error.
//
// # Packages
//
//   - pkg/loader: files, directories, Bundles, .tgz packages, the NPM package cache
//   - pkg/atlas: index of StructureDefinitions, CompartmentDefinitions, SearchParameters
//   - pkg/config: model settings, type mappings, settings files
//   - pkg/builder: StructureDefinition to type entry compilation
//   - pkg/slicing: slice tracking for profile properties
//   - pkg/contexts: evaluation contexts and relationships
//   - pkg/modelinfo: type specifiers, the registry and the ModelInfo document
//   - pkg/generator: orchestration and metrics
package fhirmodelinfo
