// Command modelinfo-gen compiles FHIR StructureDefinitions into CQL ModelInfo documents.
//
// Usage:
//
//	modelinfo-gen build [flags]
//	modelinfo-gen version
//
// Examples:
//
//	# Compile the FHIR model from an unpacked core package
//	modelinfo-gen build --input ./package --models FHIR --output ./out
//
//	# Compile US Core on top of the cached core package
//	modelinfo-gen build --fhir-version R4 --package hl7.fhir.us.core#6.1.0 --models FHIR,USCore
//
//	# Inspect the compiled registry
//	modelinfo-gen build --package-file core.tgz --dump registry.yaml
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	fv "github.com/gofhir/modelinfo"
	"github.com/gofhir/modelinfo/pkg/config"
	"github.com/gofhir/modelinfo/pkg/generator"
	"github.com/gofhir/modelinfo/pkg/logger"
	"github.com/gofhir/modelinfo/pkg/modelinfo"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "modelinfo-gen",
		Short:        "Compile FHIR StructureDefinitions into CQL ModelInfo",
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(buildCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modelinfo-gen %s (FHIR %s)\n", version, fv.SpecVersion(fv.R4))
		},
	}
}

// buildOptions holds the flags of the build command.
type buildOptions struct {
	inputs       []string
	packages     []string
	packageFiles []string
	packageURLs  []string
	packagePath  string
	fhirVersion  string
	configFile   string
	models       []string
	preserve     bool
	dump         string
	output       string
	workers      int
	fetch        bool
	registryURL  string
	strict       bool
	verbose      bool
	quiet        bool
}

func buildCmd() *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Load conformance resources and emit one ModelInfo per model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.inputs, "input", "i", nil, "Files or directories of conformance resources (repeatable, comma-separated)")
	f.StringSliceVar(&opts.packages, "package", nil, "Cached FHIR packages as name#version")
	f.StringSliceVar(&opts.packageFiles, "package-file", nil, "Local .tgz package files")
	f.StringSliceVar(&opts.packageURLs, "package-url", nil, "URLs of .tgz packages to download")
	f.StringVar(&opts.packagePath, "package-path", "", "FHIR package cache directory (default ~/.fhir/packages)")
	f.StringVar(&opts.fhirVersion, "fhir-version", "", "Load the core package of this FHIR version first (R4, R4B, R5)")
	f.StringVarP(&opts.configFile, "config", "c", "", "Settings file (YAML, JSON or TOML)")
	f.StringSliceVarP(&opts.models, "models", "m", nil, "Models to build, e.g. FHIR,USCore (default: all configured)")
	f.BoolVar(&opts.preserve, "preserve-cql-primitives", false, "Keep FHIR primitive types instead of mapping them to System types")
	f.StringVar(&opts.dump, "dump", "", "Write a YAML dump of the compiled models to this file")
	f.StringVarP(&opts.output, "output", "o", "", "Directory for <model>-modelinfo.json files (default: stdout)")
	f.IntVar(&opts.workers, "workers", 0, "Parallel file parsers (default: number of CPUs)")
	f.BoolVar(&opts.fetch, "fetch", false, "Download missing --package packages and their dependencies")
	f.StringVar(&opts.registryURL, "registry-url", "", "FHIR package registry for --fetch (default https://packages.fhir.org)")
	f.BoolVar(&opts.strict, "strict", false, "Exit non-zero when any document was skipped with an error")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Log errors only")
	return cmd
}

func runBuild(cmd *cobra.Command, opts *buildOptions) error {
	level := logger.LevelInfo
	switch {
	case opts.quiet:
		level = logger.LevelError
	case opts.verbose:
		level = logger.LevelDebug
	}
	log := logger.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: "15:04:05"}, level)

	settings, err := config.LoadFile(opts.configFile)
	if err != nil {
		return err
	}

	genOpts := []generator.Option{
		generator.WithLogger(log),
		generator.WithSettings(settings),
		generator.WithModels(opts.models...),
		generator.WithInputs(opts.inputs...),
		generator.WithInputs(opts.packageFiles...),
		generator.WithPackages(opts.packages...),
		generator.WithPackageURLs(opts.packageURLs...),
		generator.WithPackagePath(opts.packagePath),
		generator.WithWorkers(opts.workers),
	}
	if cmd.Flags().Changed("preserve-cql-primitives") {
		genOpts = append(genOpts, generator.WithPreserveCQLPrimitives(opts.preserve))
	}
	if opts.fetch {
		genOpts = append(genOpts, generator.WithFetch(opts.registryURL))
	}
	if opts.fhirVersion != "" {
		v, ok := fv.ParseFHIRVersion(opts.fhirVersion)
		if !ok {
			return fmt.Errorf("unsupported FHIR version %q", opts.fhirVersion)
		}
		genOpts = append(genOpts, generator.WithFHIRVersion(v))
	}

	g, err := generator.New(genOpts...)
	if err != nil {
		return err
	}
	res, err := g.Run(cmd.Context())
	if err != nil {
		return err
	}

	if opts.dump != "" {
		if err := generator.DumpFile(opts.dump, res.Models); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	}
	if err := writeModels(cmd.OutOrStdout(), opts.output, res.Models); err != nil {
		return err
	}
	if !opts.quiet {
		printSummary(cmd.ErrOrStderr(), res)
	}
	if opts.strict && res.Report.HasErrors() {
		return fmt.Errorf("%d document(s) could not be compiled", res.Report.ErrorCount())
	}
	return nil
}

// writeModels writes each model as indented JSON, to dir/<model>-modelinfo.json or to w.
func writeModels(w io.Writer, dir string, models []*modelinfo.ModelInfo) error {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	for _, m := range models {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.Name, err)
		}
		data = append(data, '\n')
		if dir == "" {
			if _, err := w.Write(data); err != nil {
				return err
			}
			continue
		}
		path := filepath.Join(dir, strings.ToLower(m.Name)+"-modelinfo.json")
		if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // output files are meant to be readable
			return err
		}
	}
	return nil
}

func printSummary(w io.Writer, res *generator.Result) {
	for _, s := range res.Summaries {
		fmt.Fprintf(w, "%-8s considered %d, built %d, skipped %d, synthesized %d\n",
			s.Model, s.Considered, s.Built, s.Skipped, s.Synthesized)
	}
	fmt.Fprintf(w, "Errors: %d, Warnings: %d\n", res.Report.ErrorCount(), res.Report.WarningCount())
	for _, c := range res.Report.CountByMessageID() {
		id := c.MessageID
		if id == "" {
			id = "(uncatalogued)"
		}
		fmt.Fprintf(w, "  %-40s %d\n", id, c.Count)
	}
}
