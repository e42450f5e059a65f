package atlas

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofhir/fhir/r4"

	"github.com/gofhir/modelinfo/pkg/conformance"
	"github.com/gofhir/modelinfo/pkg/issue"
	"github.com/gofhir/modelinfo/pkg/loader"
	"github.com/gofhir/modelinfo/pkg/logger"
)

func newTestAtlas() (*Atlas, *issue.Report) {
	report := issue.NewReport()
	return New(WithLogger(logger.Nop()), WithReport(report)), report
}

func sd(id, url, typeName, derivation string) *conformance.StructureDefinition {
	return &conformance.StructureDefinition{
		ResourceType: conformance.TypeStructureDefinition,
		ID:           id,
		URL:          url,
		Type:         typeName,
		Kind:         conformance.KindResource,
		Derivation:   derivation,
	}
}

func TestNewAtlas(t *testing.T) {
	a := New()
	if a.Count() != 0 {
		t.Errorf("New atlas should be empty, got %d", a.Count())
	}
	if a.Report() == nil {
		t.Error("Report() should never be nil")
	}
}

func TestIndexAndLookup(t *testing.T) {
	a, report := newTestAtlas()
	patient := sd("Patient", "http://hl7.org/fhir/StructureDefinition/Patient", "Patient", "specialization")
	profile := sd("us-core-patient", "http://hl7.org/fhir/us/core/StructureDefinition/us-core-patient", "Patient", "constraint")

	if !a.Index(patient, "a.json") || !a.Index(profile, "b.json") {
		t.Fatal("Index rejected distinct resources")
	}
	if report.Len() != 0 {
		t.Errorf("unexpected issues: %+v", report.Issues())
	}

	if got, ok := a.StructureDefinition("us-core-patient"); !ok || got != profile {
		t.Errorf("StructureDefinition(us-core-patient) = %v, %v", got, ok)
	}
	if got, ok := a.StructureDefinitionByURL(patient.URL + "|4.0.1"); !ok || got != patient {
		t.Errorf("StructureDefinitionByURL with version = %v, %v", got, ok)
	}
	if got, ok := a.TypeDefinition("Patient"); !ok || got != patient {
		t.Errorf("TypeDefinition(Patient) = %v, %v; want the base definition", got, ok)
	}
	if _, ok := a.TypeDefinition("Observation"); ok {
		t.Error("TypeDefinition(Observation) should not resolve")
	}

	all := a.StructureDefinitions()
	if len(all) != 2 || all[0] != patient || all[1] != profile {
		t.Errorf("StructureDefinitions() not in index order: %v", all)
	}
	if byID := a.StructureDefinitionsByID(); len(byID) != 2 || byID["Patient"] != patient {
		t.Errorf("StructureDefinitionsByID() = %v", byID)
	}
	if a.Count() != 2 {
		t.Errorf("Count() = %d, want 2", a.Count())
	}
}

func TestIndexRejectsDuplicateURL(t *testing.T) {
	a, report := newTestAtlas()
	url := "http://hl7.org/fhir/StructureDefinition/Patient"
	first := sd("Patient", url, "Patient", "")
	second := sd("Patient2", url, "Patient", "")

	a.Index(first, "a.json")
	if a.Index(second, "b.json") {
		t.Error("duplicate URL should be rejected")
	}

	if got, _ := a.StructureDefinitionByURL(url); got != first {
		t.Error("first definition should win")
	}
	dups := report.ByCode(issue.CodeDuplicate)
	if len(dups) != 1 || dups[0].MessageID != string(issue.DiagIndexDuplicateURL) {
		t.Fatalf("want one duplicate-url issue, got %+v", dups)
	}
	if !strings.Contains(dups[0].Diagnostics, url) {
		t.Errorf("diagnostics %q does not name %s", dups[0].Diagnostics, url)
	}
	if a.Count() != 1 {
		t.Errorf("Count() = %d, want 1", a.Count())
	}
}

func TestIndexRejectsShortIDCollision(t *testing.T) {
	a, report := newTestAtlas()
	a.Index(sd("x", "http://example.org/a/StructureDefinition/Thing", "Basic", "constraint"), "a.json")
	if a.Index(sd("y", "http://example.org/b/StructureDefinition/Thing", "Basic", "constraint"), "b.json") {
		t.Error("short id collision within a kind should be rejected")
	}
	if got := len(report.ByCode(issue.CodeDuplicate)); got != 1 {
		t.Errorf("duplicate issues = %d, want 1", got)
	}

	// The same short id is fine across kinds.
	sp := &conformance.SearchParameter{URL: "http://example.org/SearchParameter/Thing", Code: "thing"}
	if !a.Index(sp, "c.json") {
		t.Error("same short id in another kind should be accepted")
	}
}

func TestIndexNoIdentity(t *testing.T) {
	a, report := newTestAtlas()
	if a.Index(&conformance.SearchParameter{Code: "x"}, "x.json") {
		t.Error("resource with neither url nor id should be rejected")
	}
	if report.Len() != 1 {
		t.Errorf("want 1 issue, got %d", report.Len())
	}
	if a.Index(nil, "nil") {
		t.Error("nil resource should be rejected")
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID(sd("ignored", "http://hl7.org/fhir/StructureDefinition/Patient", "Patient", "")); got != "Patient" {
		t.Errorf("ShortID(url) = %q", got)
	}
	if got := ShortID(&conformance.SearchParameter{ID: "local-id"}); got != "local-id" {
		t.Errorf("ShortID(id) = %q", got)
	}
}

func TestResolveSearchParameter(t *testing.T) {
	a, _ := newTestAtlas()
	a.Index(&conformance.SearchParameter{
		URL:  "http://hl7.org/fhir/SearchParameter/clinical-patient",
		Name: "patient", Code: "patient",
		Base: []string{"AllergyIntolerance", "Condition"},
	}, "a.json")
	a.Index(&conformance.SearchParameter{
		URL:  "http://hl7.org/fhir/SearchParameter/Observation-subject",
		Name: "subject-name", Code: "subject",
		Base: []string{"Observation"},
	}, "b.json")

	tests := []struct {
		resource string
		name     string
		wantURL  string
	}{
		{"Condition", "patient", "http://hl7.org/fhir/SearchParameter/clinical-patient"},
		{"Observation", "subject", "http://hl7.org/fhir/SearchParameter/Observation-subject"},
		{"Observation", "subject-name", "http://hl7.org/fhir/SearchParameter/Observation-subject"},
		{"Observation", "patient", ""},
		{"Encounter", "subject", ""},
	}
	for _, tt := range tests {
		sp, ok := a.ResolveSearchParameter(tt.resource, tt.name)
		if tt.wantURL == "" {
			if ok {
				t.Errorf("ResolveSearchParameter(%s, %s) = %s, want none", tt.resource, tt.name, sp.URL)
			}
			continue
		}
		if !ok || sp.URL != tt.wantURL {
			t.Errorf("ResolveSearchParameter(%s, %s) = %v, %v", tt.resource, tt.name, sp, ok)
		}
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"1-patient.json":     `{"resourceType":"StructureDefinition","id":"Patient","url":"http://hl7.org/fhir/StructureDefinition/Patient","type":"Patient","kind":"resource"}`,
		"2-compartment.json": `{"resourceType":"CompartmentDefinition","id":"patient","url":"http://hl7.org/fhir/CompartmentDefinition/patient","code":"Patient","resource":[{"code":"Observation","param":["subject"]}]}`,
		"3-duplicate.json":   `{"resourceType":"StructureDefinition","id":"Patient","url":"http://hl7.org/fhir/StructureDefinition/Patient","type":"Patient","kind":"resource"}`,
		"4-valueset.json":    `{"resourceType":"ValueSet","id":"vs","url":"http://example.org/ValueSet/vs"}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	a, report := newTestAtlas()
	if err := a.Load(dir); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if a.Count() != 3 {
		t.Errorf("Count() = %d, want 3", a.Count())
	}
	if cds := a.CompartmentDefinitions(); len(cds) != 1 || cds[0].Code != "Patient" {
		t.Errorf("CompartmentDefinitions() = %v", cds)
	}
	if vs := a.Resources("ValueSet"); len(vs) != 1 {
		t.Errorf("Resources(ValueSet) = %d, want 1", len(vs))
	}
	if got := len(report.ByCode(issue.CodeDuplicate)); got != 1 {
		t.Errorf("duplicate issues = %d, want 1", got)
	}

	if err := a.Load(filepath.Join(dir, "missing")); err == nil {
		t.Error("Load should fail for a missing path")
	}
}

func TestLoadPackages(t *testing.T) {
	a, _ := newTestAtlas()
	a.LoadPackages(nil, &loader.Package{
		Name:    "example",
		Version: "1.0.0",
		Documents: []loader.Document{
			{Source: "x", Resource: sd("Patient", "http://hl7.org/fhir/StructureDefinition/Patient", "Patient", "")},
		},
	})
	if a.Count() != 1 {
		t.Errorf("Count() = %d, want 1", a.Count())
	}
}

func TestIndexR4StructureDefinition(t *testing.T) {
	url := "http://hl7.org/fhir/StructureDefinition/Observation"
	name := "Observation"
	typeName := "Observation"
	kind := r4.StructureDefinitionKindResource
	path := "Observation"

	a, _ := newTestAtlas()
	err := a.IndexR4StructureDefinition(&r4.StructureDefinition{
		Url:  &url,
		Name: &name,
		Type: &typeName,
		Kind: &kind,
		Snapshot: &r4.StructureDefinitionSnapshot{
			Element: []r4.ElementDefinition{{Path: &path}},
		},
	})
	if err != nil {
		t.Fatalf("IndexR4StructureDefinition failed: %v", err)
	}
	got, ok := a.StructureDefinition("Observation")
	if !ok || got.Type != "Observation" || len(got.Elements()) != 1 {
		t.Errorf("indexed definition = %+v, %v", got, ok)
	}

	if err := a.IndexR4StructureDefinition(nil); err == nil {
		t.Error("nil definition should fail")
	}
}

func TestIndexR4CompartmentAndSearchParameter(t *testing.T) {
	cdURL := "http://hl7.org/fhir/CompartmentDefinition/patient"
	code := r4.CompartmentType("Patient")
	search := true
	obs := "Observation"

	spURL := "http://hl7.org/fhir/SearchParameter/Observation-subject"
	spName := "subject"
	spType := r4.SearchParamType("reference")
	expr := "Observation.subject"

	a, _ := newTestAtlas()
	resources := []r4.Resource{
		&r4.CompartmentDefinition{
			Url:      &cdURL,
			Code:     &code,
			Search:   &search,
			Resource: []r4.CompartmentDefinitionResource{{Code: &obs, Param: []string{"subject", "performer"}}},
		},
		&r4.SearchParameter{
			Url:        &spURL,
			Name:       &spName,
			Code:       &spName,
			Base:       []string{"Observation"},
			Type:       &spType,
			Expression: &expr,
		},
	}
	for _, res := range resources {
		if err := a.IndexR4(res); err != nil {
			t.Fatalf("IndexR4(%s) failed: %v", res.GetResourceType(), err)
		}
	}

	cds := a.CompartmentDefinitions()
	if len(cds) != 1 || cds[0].Code != "Patient" || !cds[0].Search {
		t.Fatalf("CompartmentDefinitions() = %+v", cds)
	}
	if r := cds[0].Resource; len(r) != 1 || r[0].Code != "Observation" || len(r[0].Param) != 2 {
		t.Errorf("compartment resources = %+v", r)
	}

	sp, ok := a.ResolveSearchParameter("Observation", "subject")
	if !ok || sp.Expression != expr || sp.Type != "reference" {
		t.Errorf("ResolveSearchParameter() = %+v, %v", sp, ok)
	}

	if err := a.IndexR4SearchParameter(resources[1].(*r4.SearchParameter)); err == nil {
		t.Error("duplicate SearchParameter should fail")
	}
	if err := a.IndexR4(&r4.Patient{}); err == nil {
		t.Error("unsupported resource should fail")
	}
	if err := a.IndexR4CompartmentDefinition(nil); err == nil {
		t.Error("nil definition should fail")
	}
}
