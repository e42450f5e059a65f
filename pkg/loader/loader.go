// Package loader reads FHIR conformance resources from directories, single files,
// Bundles, the NPM package cache, local .tgz packages, or remote URLs.
//
// Every loader entry point returns Documents in a deterministic order: files are sorted
// by path and Bundle entries keep their position. Parsing fans out over a bounded
// number of goroutines.
package loader

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/gofhir/modelinfo/pkg/conformance"
	"github.com/gofhir/modelinfo/pkg/issue"
	"github.com/gofhir/modelinfo/pkg/location"
	"github.com/gofhir/modelinfo/pkg/logger"
)

// maxBundleDepth bounds recursive Bundle unrolling.
const maxBundleDepth = 8

// DefaultPackagePath returns the default FHIR package cache path.
func DefaultPackagePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fhir", "packages")
}

// PackageRef represents a reference to a FHIR package.
type PackageRef struct {
	Name    string
	Version string
}

// String returns the package spec in "name#version" format.
func (p PackageRef) String() string {
	return fmt.Sprintf("%s#%s", p.Name, p.Version)
}

// ParsePackageSpec parses "name#version" into separate components.
func ParsePackageSpec(spec string) (name, version string) {
	parts := strings.SplitN(spec, "#", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return spec, ""
}

// Document is one parsed conformance resource and where it came from.
type Document struct {
	// Source is the file path, with "!entry" for archive members and "#n" for the
	// n-th Bundle entry.
	Source   string
	Resource conformance.Resource
}

// Package represents a loaded FHIR package.
type Package struct {
	Name        string
	Version     string
	Path        string
	FHIRVersion string
	Documents   []Document
}

// PackageManifest represents the package.json of a FHIR NPM package.
type PackageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	FHIRVersion  string            `json:"fhirVersion,omitempty"`
	FHIRVersions []string          `json:"fhirVersions,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// fhirVersion returns the declared FHIR version, preferring the singular field.
func (m PackageManifest) fhirVersion() string {
	if m.FHIRVersion != "" {
		return m.FHIRVersion
	}
	if len(m.FHIRVersions) > 0 {
		return m.FHIRVersions[0]
	}
	return ""
}

// Option configures a Loader.
type Option func(*Loader)

// WithWorkers sets the number of parsing goroutines. Values below one use NumCPU.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		l.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// WithReport sets the report that receives load issues.
func WithReport(r *issue.Report) Option {
	return func(l *Loader) {
		l.report = r
	}
}

// WithHTTPClient sets the client used by LoadFromURL.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) {
		l.client = c
	}
}

// Loader reads conformance resources.
type Loader struct {
	basePath string
	workers  int
	log      *logger.Logger
	report   *issue.Report
	client   *http.Client
}

// NewLoader creates a new Loader with the given package cache path.
func NewLoader(basePath string, opts ...Option) *Loader {
	if basePath == "" {
		basePath = DefaultPackagePath()
	}
	l := &Loader{
		basePath: basePath,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.workers <= 0 {
		l.workers = runtime.NumCPU()
	}
	if l.log == nil {
		l.log = logger.Default().With("loader")
	}
	if l.report == nil {
		l.report = issue.NewReport()
	}
	return l
}

// BasePath returns the base path for packages.
func (l *Loader) BasePath() string {
	return l.basePath
}

// Report returns the report load issues are written to.
func (l *Loader) Report() *issue.Report {
	return l.report
}

// rawFile is a file's bytes before parsing.
type rawFile struct {
	source string
	data   []byte
}

// LoadPaths reads every resource file under the given files and directories.
// Directories are walked recursively; .tgz files are read as packages. A path that
// does not exist is an error. Unreadable or malformed files are reported and skipped.
func (l *Loader) LoadPaths(paths []string) ([]Document, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", root, err)
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				l.reportUnreadable(path, err)
				return nil
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.Strings(files)

	var raws []rawFile
	var docs []Document
	flush := func() {
		docs = append(docs, l.parseAll(raws)...)
		raws = nil
	}
	for _, path := range files {
		switch format := formatOf(path); format {
		case "tgz":
			flush()
			pkg, err := l.LoadFromTgz(path)
			if err != nil {
				l.reportUnreadable(path, err)
				continue
			}
			docs = append(docs, pkg.Documents...)
		case "json", "yaml":
			data, err := os.ReadFile(path)
			if err != nil {
				l.reportUnreadable(path, err)
				continue
			}
			if skipFile(filepath.Base(path)) {
				continue
			}
			raws = append(raws, rawFile{source: path, data: data})
		case "xml":
			l.log.Warn().Str("source", path).Msg("XML resources are not supported")
			l.report.AddWithID(issue.DiagLoadUnsupported, "loader",
				map[string]any{"format": "xml", "source": path}, path)
		default:
			l.log.Debug().Str("source", path).Msg("ignoring non-resource file")
		}
	}
	flush()

	l.log.Info().Int("files", len(files)).Int("resources", len(docs)).Msg("loaded inputs")
	return docs, nil
}

// LoadPackage loads a specific package by name and version from the package cache.
func (l *Loader) LoadPackage(name, version string) (*Package, error) {
	pkgDir := filepath.Join(l.basePath, fmt.Sprintf("%s#%s", name, version))

	if _, err := os.Stat(pkgDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("package %s#%s not found at %s", name, version, pkgDir)
	}

	manifestPath := filepath.Join(pkgDir, "package", "package.json")
	manifestData, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read package manifest: %w", err)
	}

	var manifest PackageManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse package manifest: %w", err)
	}

	packageDir := filepath.Join(pkgDir, "package")
	entries, err := os.ReadDir(packageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var raws []rawFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || skipFile(entry.Name()) {
			continue
		}
		filePath := filepath.Join(packageDir, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			l.reportUnreadable(filePath, err)
			continue
		}
		raws = append(raws, rawFile{source: filePath, data: data})
	}

	pkg := &Package{
		Name:        name,
		Version:     version,
		Path:        pkgDir,
		FHIRVersion: manifest.fhirVersion(),
		Documents:   l.parseAll(raws),
	}
	l.log.Info().Str("package", PackageRef{name, version}.String()).
		Int("resources", len(pkg.Documents)).Msg("loaded package")
	return pkg, nil
}

// LoadPackageRef loads a package from a PackageRef.
func (l *Loader) LoadPackageRef(ref PackageRef) (*Package, error) {
	return l.LoadPackage(ref.Name, ref.Version)
}

// ListPackages returns all available packages in the cache.
func (l *Loader) ListPackages() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, err
	}

	var packages []string
	for _, entry := range entries {
		if entry.IsDir() && strings.Contains(entry.Name(), "#") {
			packages = append(packages, entry.Name())
		}
	}
	return packages, nil
}

// LoadFromTgz loads a FHIR package from a local .tgz file.
func (l *Loader) LoadFromTgz(tgzPath string) (*Package, error) {
	file, err := os.Open(tgzPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tgz file: %w", err)
	}
	defer file.Close()

	return l.loadFromTgzReader(file, tgzPath)
}

// LoadFromURL loads a FHIR package from a remote URL pointing to a .tgz file.
func (l *Loader) LoadFromURL(url string) (*Package, error) {
	resp, err := l.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download package from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download package: HTTP %d", resp.StatusCode)
	}

	return l.loadFromTgzReader(resp.Body, url)
}

// loadFromTgzReader loads a package from a gzipped tar reader.
func (l *Loader) loadFromTgzReader(reader io.Reader, source string) (*Package, error) {
	gzReader, err := gzip.NewReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)

	var manifestData []byte
	var raws []rawFile

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}

		name := strings.TrimPrefix(header.Name, "package/")
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := io.ReadAll(tarReader)
		if err != nil {
			l.reportUnreadable(source+"!"+name, err)
			continue
		}

		if name == "package.json" {
			manifestData = data
			continue
		}
		if skipFile(filepath.Base(name)) || strings.Contains(name, "/") {
			// Only top-level package members are resources; examples/ and other/ are not.
			continue
		}
		raws = append(raws, rawFile{source: source + "!" + name, data: data})
	}

	if manifestData == nil {
		return nil, fmt.Errorf("package.json not found in %s", source)
	}

	var manifest PackageManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse package manifest: %w", err)
	}

	sort.Slice(raws, func(i, j int) bool { return raws[i].source < raws[j].source })

	pkg := &Package{
		Name:        manifest.Name,
		Version:     manifest.Version,
		Path:        source,
		FHIRVersion: manifest.fhirVersion(),
		Documents:   l.parseAll(raws),
	}
	l.log.Info().Str("package", PackageRef{pkg.Name, pkg.Version}.String()).
		Str("source", source).Int("resources", len(pkg.Documents)).Msg("loaded package")
	return pkg, nil
}

// parseAll parses raw files concurrently and returns the documents in input order.
func (l *Loader) parseAll(raws []rawFile) []Document {
	if len(raws) == 0 {
		return nil
	}
	results := make([][]Document, len(raws))

	workers := l.workers
	if workers > len(raws) {
		workers = len(raws)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = l.parseFile(raws[i])
			}
		}()
	}
	for i := range raws {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var docs []Document
	for _, r := range results {
		docs = append(docs, r...)
	}
	return docs
}

// parseFile decodes one file, converting YAML to JSON first when needed.
func (l *Loader) parseFile(raw rawFile) []Document {
	data := raw.data
	if formatOf(raw.source) == "yaml" {
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			l.reportMalformed(raw.source, data, err)
			return nil
		}
		data = converted
	}
	return l.unroll(raw.source, data, 0)
}

// unroll parses data, expanding Bundles (recursively) into their entries.
func (l *Loader) unroll(source string, data []byte, depth int) []Document {
	resourceType, err := conformance.PeekResourceType(data)
	if err != nil {
		l.reportMalformed(source, data, err)
		return nil
	}

	if resourceType != conformance.TypeBundle {
		res, err := conformance.Parse(data)
		if err != nil {
			l.reportMalformed(source, data, err)
			return nil
		}
		return []Document{{Source: source, Resource: res}}
	}

	if depth >= maxBundleDepth {
		l.reportMalformed(source, data, fmt.Errorf("bundle nesting exceeds %d levels", maxBundleDepth))
		return nil
	}
	bundle, err := conformance.ParseBundle(data)
	if err != nil {
		l.reportMalformed(source, data, err)
		return nil
	}
	var docs []Document
	for i, entry := range bundle.Resources() {
		docs = append(docs, l.unroll(fmt.Sprintf("%s#%d", source, i), entry, depth+1)...)
	}
	return docs
}

func (l *Loader) reportUnreadable(source string, err error) {
	l.log.Warn().Str("source", source).Err(err).Msg("cannot read input")
	l.report.AddWithID(issue.DiagLoadUnreadable, "loader",
		map[string]any{"source": source, "error": err.Error()}, source)
}

// reportMalformed records a decoding failure. JSON syntax and type errors in a file
// are reported with the line and column they occurred at.
func (l *Loader) reportMalformed(source string, data []byte, err error) {
	msg := err.Error()
	if formatOf(source) == "json" {
		if loc, ok := location.OfError(data, err); ok {
			msg = fmt.Sprintf("%s (line %d, column %d)", msg, loc.Line, loc.Column)
		}
	}
	l.log.Warn().Str("source", source).Str("error", msg).Msg("skipping malformed resource")
	l.report.AddWithID(issue.DiagLoadMalformed, "loader",
		map[string]any{"source": source, "error": msg}, source)
}

// formatOf classifies a file by extension.
func formatOf(path string) string {
	lower := strings.ToLower(path)
	if i := strings.Index(lower, "!"); i >= 0 {
		lower = lower[i+1:]
	}
	switch {
	case strings.HasSuffix(lower, ".json"):
		return "json"
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return "yaml"
	case strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar.gz"):
		return "tgz"
	case strings.HasSuffix(lower, ".xml"):
		return "xml"
	default:
		return ""
	}
}

// skipFile reports package bookkeeping files that are not resources.
func skipFile(name string) bool {
	switch name {
	case "package.json", ".index.json", "package-lock.json":
		return true
	}
	return false
}
