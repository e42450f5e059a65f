// Package registry downloads packages from the FHIR Package Registry into the local
// package cache.
//
// The FHIR Package Registry (https://packages.fhir.org) hosts core packages and
// Implementation Guides. Fetched packages are extracted in the NPM cache layout
// (<cache>/<name>#<version>/package/...) that pkg/loader reads.
package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofhir/modelinfo/pkg/loader"
	"github.com/gofhir/modelinfo/pkg/logger"
)

const (
	// DefaultRegistryURL is the primary FHIR package registry.
	DefaultRegistryURL = "https://packages.fhir.org"

	// DefaultTimeout for HTTP requests.
	DefaultTimeout = 60 * time.Second

	// VersionLatest represents the "latest" version tag.
	VersionLatest = "latest"

	// maxFileSize bounds each extracted file.
	maxFileSize = 100 * 1024 * 1024
)

// ErrNotFound is returned when the registry has no such package or version.
var ErrNotFound = errors.New("package not found in registry")

// Client is a FHIR Package Registry client.
type Client struct {
	httpClient  *http.Client
	registryURL string
	cacheDir    string
	log         *logger.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithRegistryURL sets a custom registry URL.
func WithRegistryURL(url string) ClientOption {
	return func(c *Client) {
		c.registryURL = strings.TrimRight(url, "/")
	}
}

// WithCacheDir sets the package cache directory.
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) {
		c.cacheDir = dir
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a registry client writing into the default package cache.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		registryURL: DefaultRegistryURL,
		cacheDir:    loader.DefaultPackagePath(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cacheDir == "" {
		c.cacheDir = filepath.Join(".", ".fhir", "packages")
	}
	if c.log == nil {
		c.log = logger.Default().With("registry")
	}
	return c
}

// CacheDir returns the cache directory path.
func (c *Client) CacheDir() string {
	return c.cacheDir
}

// versionInfo is one entry of the registry's "versions" table.
type versionInfo struct {
	FHIRVersion string `json:"fhirVersion"`
	URL         string `json:"url"`
	Dist        struct {
		Tarball string `json:"tarball"`
	} `json:"dist"`
}

// packageInfo is the registry's metadata document for one package.
type packageInfo struct {
	Name     string                 `json:"name"`
	DistTags map[string]string      `json:"dist-tags"`
	Versions map[string]versionInfo `json:"versions"`
}

// Fetch makes ref available in the cache and returns it with its version resolved.
// A package already in the cache is not downloaded again.
func (c *Client) Fetch(ctx context.Context, ref loader.PackageRef) (loader.PackageRef, error) {
	if ref.Version != "" && ref.Version != VersionLatest && c.IsCached(ref) {
		return ref, nil
	}

	info, err := c.packageInfo(ctx, ref.Name)
	if err != nil {
		return ref, err
	}
	if ref.Version == "" || ref.Version == VersionLatest {
		latest, ok := info.DistTags[VersionLatest]
		if !ok {
			return ref, fmt.Errorf("%w: no latest version of %s", ErrNotFound, ref.Name)
		}
		ref.Version = latest
		if c.IsCached(ref) {
			return ref, nil
		}
	}

	v, ok := info.Versions[ref.Version]
	if !ok {
		return ref, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	tarball := v.Dist.Tarball
	if tarball == "" {
		tarball = v.URL
	}
	if tarball == "" {
		return ref, fmt.Errorf("no download URL for %s", ref)
	}

	if err := c.download(ctx, tarball, c.packageDir(ref)); err != nil {
		return ref, fmt.Errorf("download %s: %w", ref, err)
	}
	c.log.Info().Str("package", ref.String()).Str("url", tarball).Msg("fetched package")
	return ref, nil
}

// IsCached reports whether ref has been extracted into the cache.
func (c *Client) IsCached(ref loader.PackageRef) bool {
	_, err := os.Stat(filepath.Join(c.packageDir(ref), "package", "package.json"))
	return err == nil
}

// Manifest reads the package.json of a cached package.
func (c *Client) Manifest(ref loader.PackageRef) (*loader.PackageManifest, error) {
	data, err := os.ReadFile(filepath.Join(c.packageDir(ref), "package", "package.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest of %s: %w", ref, err)
	}
	var m loader.PackageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest of %s: %w", ref, err)
	}
	return &m, nil
}

func (c *Client) packageInfo(ctx context.Context, name string) (*packageInfo, error) {
	resp, err := c.get(ctx, c.registryURL+"/"+name)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry lookup of %s: status %d", name, resp.StatusCode)
	}

	var info packageInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode registry metadata of %s: %w", name, err)
	}
	return &info, nil
}

func (c *Client) download(ctx context.Context, url, dir string) error {
	resp, err := c.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := extractTarGz(resp.Body, dir); err != nil {
		os.RemoveAll(dir)
		return err
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// packageDir returns the cache directory of a package.
func (c *Client) packageDir(ref loader.PackageRef) string {
	safeName := strings.ReplaceAll(ref.Name, "/", "-")
	return filepath.Join(c.cacheDir, safeName+"#"+ref.Version)
}

// extractTarGz extracts a package archive below destDir.
func extractTarGz(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gzr.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target := filepath.Join(destDir, header.Name) //nolint:gosec // G305: checked against root below
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, io.LimitReader(tr, maxFileSize)); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
