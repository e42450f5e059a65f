package contexts

import (
	"testing"

	"github.com/gofhir/modelinfo/pkg/atlas"
	"github.com/gofhir/modelinfo/pkg/config"
	"github.com/gofhir/modelinfo/pkg/conformance"
	"github.com/gofhir/modelinfo/pkg/issue"
	"github.com/gofhir/modelinfo/pkg/logger"
	"github.com/gofhir/modelinfo/pkg/modelinfo"
)

func searchParameter(id, code string, base []string, expression, xpath string) *conformance.SearchParameter {
	return &conformance.SearchParameter{
		ResourceType: conformance.TypeSearchParameter,
		ID:           id,
		URL:          "http://hl7.org/fhir/SearchParameter/" + id,
		Name:         code,
		Code:         code,
		Base:         base,
		Expression:   expression,
		Xpath:        xpath,
	}
}

func newTestBuilder(t *testing.T) (*Builder, *modelinfo.Registry, *issue.Report) {
	t.Helper()
	report := issue.NewReport()
	a := atlas.New(atlas.WithLogger(logger.Nop()), atlas.WithReport(report))

	resources := []conformance.Resource{
		&conformance.CompartmentDefinition{
			ResourceType: conformance.TypeCompartmentDefinition,
			ID:           "patient",
			URL:          "http://hl7.org/fhir/CompartmentDefinition/patient",
			Code:         "Patient",
			Resource: []conformance.CompartmentResource{
				{Code: "Observation", Param: []string{"subject", "performer", "patient"}},
				{Code: "Condition", Param: []string{"patient"}},
				{Code: "Procedure", Param: []string{"nope"}},
			},
		},
		&conformance.CompartmentDefinition{
			ResourceType: conformance.TypeCompartmentDefinition,
			ID:           "encounter",
			URL:          "http://hl7.org/fhir/CompartmentDefinition/encounter",
			Code:         "Encounter",
			Resource:     []conformance.CompartmentResource{{Code: "Observation", Param: []string{"encounter"}}},
		},
		searchParameter("Observation-subject", "subject", []string{"Observation"},
			"Observation.subject.where(resolve() is Patient)", ""),
		searchParameter("Observation-performer", "performer", []string{"Observation"},
			"Observation.performer.where(", "f:Observation/f:performer"),
		searchParameter("clinical-patient", "patient", []string{"Condition", "Observation"},
			"Condition.subject.where(resolve() is Patient) | Observation.subject.where(resolve() is Patient)", ""),
	}
	for _, res := range resources {
		if !a.Index(res, "fixture") {
			t.Fatalf("%s not indexed", res.ResourceID())
		}
	}

	reg := modelinfo.NewRegistry()
	for _, name := range []string{"Patient", "Observation", "Procedure"} {
		reg.Put(&modelinfo.TypeEntry{Model: config.ModelFHIR, Name: name})
	}
	b := New(a, reg, config.Default(), WithLogger(logger.Nop()), WithReport(report))
	return b, reg, report
}

func TestBuildContexts(t *testing.T) {
	b, reg, report := newTestBuilder(t)
	got := b.Build([]string{config.ModelFHIR, config.ModelUSCore})

	fhir := got[config.ModelFHIR]
	if len(fhir) != 1 {
		t.Fatalf("FHIR contexts = %+v, want only Patient", fhir)
	}
	patient := fhir[0]
	if patient.Name != "Patient" || patient.KeyElement != "id" {
		t.Errorf("context = %+v", patient)
	}
	if patient.ContextType.Qualified() != "FHIR.Patient" || patient.BirthDateElement != "birthDate.value" {
		t.Errorf("patient context type/birth date = %s/%q", patient.ContextType.Qualified(), patient.BirthDateElement)
	}
	if len(got[config.ModelUSCore]) != 0 {
		t.Errorf("USCore has no built types but got contexts %+v", got[config.ModelUSCore])
	}

	observation, _ := reg.Lookup(config.ModelFHIR, "Observation")
	want := []modelinfo.Relationship{
		{Context: "Patient", RelatedKeyElement: "subject"},
		{Context: "Patient", RelatedKeyElement: "performer"},
	}
	if len(observation.Relationships) != len(want) {
		t.Fatalf("Observation relationships = %+v, want %+v", observation.Relationships, want)
	}
	for i := range want {
		if observation.Relationships[i] != want[i] {
			t.Errorf("relationship %d = %+v, want %+v", i, observation.Relationships[i], want[i])
		}
	}
	if _, ok := reg.Lookup(config.ModelFHIR, "Condition"); ok {
		t.Error("relationships must not create entries")
	}

	tests := []struct {
		id   issue.DiagnosticID
		want int
	}{
		{issue.DiagContextTypeMissing, 3}, // Encounter in FHIR, Patient and Encounter in USCore
		{issue.DiagContextSearchParamMissing, 1},
		{issue.DiagContextExpressionInvalid, 0},
	}
	for _, tt := range tests {
		n := 0
		for _, i := range report.Issues() {
			if i.MessageID == string(tt.id) {
				n++
			}
		}
		if n != tt.want {
			t.Errorf("%s issues = %d, want %d", tt.id, n, tt.want)
		}
	}
}

func TestBuildIsIdempotentOnRelationships(t *testing.T) {
	b, reg, _ := newTestBuilder(t)
	b.Build([]string{config.ModelFHIR})
	b.Build([]string{config.ModelFHIR})
	observation, _ := reg.Lookup(config.ModelFHIR, "Observation")
	if len(observation.Relationships) != 2 {
		t.Errorf("relationships duplicated: %+v", observation.Relationships)
	}
	if b.CacheSize() == 0 {
		t.Error("compiled expressions not cached")
	}
}

func TestUnresolvableExpressionReported(t *testing.T) {
	report := issue.NewReport()
	a := atlas.New(atlas.WithLogger(logger.Nop()), atlas.WithReport(report))
	a.Index(&conformance.CompartmentDefinition{
		ResourceType: conformance.TypeCompartmentDefinition,
		ID:           "patient",
		Code:         "Patient",
		Resource:     []conformance.CompartmentResource{{Code: "Observation", Param: []string{"broken", "elsewhere"}}},
	}, "fixture")
	a.Index(searchParameter("Observation-broken", "broken", []string{"Observation"}, "Observation.subject.where(", ""), "fixture")
	a.Index(searchParameter("Observation-elsewhere", "elsewhere", []string{"Observation"}, "Encounter.subject", ""), "fixture")

	reg := modelinfo.NewRegistry()
	reg.Put(&modelinfo.TypeEntry{Model: config.ModelFHIR, Name: "Patient"})
	reg.Put(&modelinfo.TypeEntry{Model: config.ModelFHIR, Name: "Observation"})
	New(a, reg, config.Default(), WithLogger(logger.Nop()), WithReport(report)).Build([]string{config.ModelFHIR})

	n := 0
	for _, i := range report.Issues() {
		if i.MessageID == string(issue.DiagContextExpressionInvalid) {
			n++
		}
	}
	if n != 2 {
		t.Errorf("invalid expression issues = %d, want 2", n)
	}
	observation, _ := reg.Lookup(config.ModelFHIR, "Observation")
	if len(observation.Relationships) != 0 {
		t.Errorf("relationships = %+v, want none", observation.Relationships)
	}
}

func TestExpressionKeyElement(t *testing.T) {
	tests := []struct {
		expression string
		resource   string
		want       string
		ok         bool
	}{
		{"Observation.subject", "Observation", "subject", true},
		{"Observation.subject.where(resolve() is Patient)", "Observation", "subject", true},
		{"Account.subject.where(resolve() is Patient) | Observation.subject.where(resolve() is Patient)", "Observation", "subject", true},
		{"(Observation.focus as Reference)", "Observation", "focus", true},
		{"MedicationRequest.medication.as(Reference)", "MedicationRequest", "medication", true},
		{"Group.member.entity", "Group", "entity", true},
		{"Encounter.subject", "Observation", "", false},
		{"Observation", "Observation", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, ok := ExpressionKeyElement(tt.expression, tt.resource)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ExpressionKeyElement() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestXpathKeyElement(t *testing.T) {
	tests := []struct {
		xpath    string
		resource string
		want     string
		ok       bool
	}{
		{"f:Observation/f:subject", "Observation", "subject", true},
		{"f:Account/f:subject | f:Observation/f:performer", "Observation", "performer", true},
		{"f:Group/f:member/f:entity", "Group", "entity", true},
		{"f:Observation/f:value[x]", "Observation", "value", true},
		{"f:Encounter/f:subject", "Observation", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.xpath, func(t *testing.T) {
			got, ok := XpathKeyElement(tt.xpath, tt.resource)
			if got != tt.want || ok != tt.ok {
				t.Errorf("XpathKeyElement() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
