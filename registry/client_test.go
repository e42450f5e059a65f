package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofhir/modelinfo/pkg/loader"
	"github.com/gofhir/modelinfo/pkg/logger"
)

// fakeRegistry serves package metadata at /<name> and archives at /tgz/<name>/<version>.
type fakeRegistry struct {
	srv       *httptest.Server
	packages  map[string]map[string]map[string]string // name -> version -> dependencies
	latest    map[string]string
	downloads atomic.Int32
	archives  map[string][]byte
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	f := &fakeRegistry{
		packages: map[string]map[string]map[string]string{
			"hl7.fhir.us.core": {"6.1.0": {"hl7.fhir.r4.core": "4.0.1", "hl7.terminology.r4": "5.0.0", "us.nlm.vsac": "0.11.0"}},
			"hl7.fhir.r4.core": {"4.0.1": nil},
			"us.nlm.vsac":      {"0.11.0": {"hl7.fhir.r4.core": "4.0.1"}},
			"cyclic.a":         {"1.0.0": {"cyclic.b": "1.0.0"}},
			"cyclic.b":         {"1.0.0": {"cyclic.a": "1.0.0"}},
		},
		latest:   map[string]string{"hl7.fhir.us.core": "6.1.0"},
		archives: map[string][]byte{"evil#1.0.0": tgz(t, map[string]string{"../escape.json": "{}"})},
	}
	f.packages["evil"] = map[string]map[string]string{"1.0.0": nil}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rest, ok := strings.CutPrefix(r.URL.Path, "/tgz/"); ok {
			name, version, _ := strings.Cut(rest, "/")
			f.downloads.Add(1)
			if data, ok := f.archives[name+"#"+version]; ok {
				w.Write(data)
				return
			}
			manifest, _ := json.Marshal(loader.PackageManifest{
				Name: name, Version: version, Dependencies: f.packages[name][version],
			})
			files := map[string]string{"package/package.json": string(manifest)}
			files["package/StructureDefinition-"+name+".json"] = `{"resourceType": "StructureDefinition"}`
			w.Write(tgz(t, files))
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/")
		versions, ok := f.packages[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		info := map[string]any{"name": name, "dist-tags": map[string]string{}, "versions": map[string]any{}}
		if latest, ok := f.latest[name]; ok {
			info["dist-tags"] = map[string]string{"latest": latest}
		}
		for v := range versions {
			info["versions"].(map[string]any)[v] = map[string]any{
				"dist": map[string]string{"tarball": f.srv.URL + "/tgz/" + name + "/" + v},
			}
		}
		json.NewEncoder(w).Encode(info)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func tgz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func (f *fakeRegistry) client(t *testing.T) *Client {
	return NewClient(WithRegistryURL(f.srv.URL+"/"), WithCacheDir(t.TempDir()), WithLogger(logger.Nop()))
}

func TestFetchExtractsIntoCacheLayout(t *testing.T) {
	f := newFakeRegistry(t)
	c := f.client(t)
	ref := loader.PackageRef{Name: "hl7.fhir.r4.core", Version: "4.0.1"}

	got, err := c.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got != ref || !c.IsCached(ref) {
		t.Fatalf("Fetch() = %v, cached %v", got, c.IsCached(ref))
	}

	pkg, err := loader.NewLoader(c.CacheDir(), loader.WithLogger(logger.Nop())).LoadPackageRef(ref)
	if err != nil {
		t.Fatalf("loader cannot read fetched package: %v", err)
	}
	if pkg.Name != ref.Name {
		t.Errorf("package name = %q", pkg.Name)
	}

	if _, err := c.Fetch(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
	if n := f.downloads.Load(); n != 1 {
		t.Errorf("downloads = %d, want 1 (second fetch served from cache)", n)
	}
}

func TestFetchResolvesLatest(t *testing.T) {
	c := newFakeRegistry(t).client(t)
	got, err := c.Fetch(context.Background(), loader.PackageRef{Name: "hl7.fhir.us.core"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Version != "6.1.0" {
		t.Errorf("version = %q, want 6.1.0", got.Version)
	}
	m, err := c.Manifest(got)
	if err != nil || m.Name != "hl7.fhir.us.core" {
		t.Errorf("Manifest() = %+v, %v", m, err)
	}
}

func TestFetchErrors(t *testing.T) {
	f := newFakeRegistry(t)
	c := f.client(t)
	tests := []struct {
		name     string
		ref      loader.PackageRef
		notFound bool
	}{
		{"unknown package", loader.PackageRef{Name: "no.such.package", Version: "1.0.0"}, true},
		{"unknown version", loader.PackageRef{Name: "hl7.fhir.r4.core", Version: "9.9.9"}, true},
		{"no latest tag", loader.PackageRef{Name: "us.nlm.vsac", Version: "latest"}, true},
		{"path traversal", loader.PackageRef{Name: "evil", Version: "1.0.0"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Fetch(context.Background(), tt.ref)
			if err == nil {
				t.Fatal("expected an error")
			}
			if errors.Is(err, ErrNotFound) != tt.notFound {
				t.Errorf("errors.Is(ErrNotFound) = %v for %v", !tt.notFound, err)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(c.CacheDir(), "escape.json")); err == nil {
		t.Error("archive escaped the package directory")
	}
	if c.IsCached(loader.PackageRef{Name: "evil", Version: "1.0.0"}) {
		t.Error("failed extraction left a cached package")
	}
}

func TestResolveOrdersDependenciesFirst(t *testing.T) {
	c := newFakeRegistry(t).client(t)
	refs, err := NewResolver(c).Resolve(context.Background(), []loader.PackageRef{
		{Name: "hl7.fhir.r4.core", Version: "4.0.1"},
		{Name: "hl7.fhir.us.core", Version: "6.1.0"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	var got []string
	for _, r := range refs {
		got = append(got, r.String())
	}
	want := "hl7.fhir.r4.core#4.0.1,us.nlm.vsac#0.11.0,hl7.fhir.us.core#6.1.0"
	if strings.Join(got, ",") != want {
		t.Errorf("Resolve() = %s, want %s", strings.Join(got, ","), want)
	}
}

func TestResolveCycleAndMissingPackage(t *testing.T) {
	c := newFakeRegistry(t).client(t)
	r := NewResolver(c)

	refs, err := r.Resolve(context.Background(), []loader.PackageRef{{Name: "cyclic.a", Version: "1.0.0"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(refs) != 2 || refs[0].Name != "cyclic.b" || refs[1].Name != "cyclic.a" {
		t.Errorf("Resolve() = %v", refs)
	}

	if _, err := r.Resolve(context.Background(), []loader.PackageRef{{Name: "no.such.package", Version: "1.0.0"}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing top-level package error = %v", err)
	}
}
