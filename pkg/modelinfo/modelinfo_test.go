package modelinfo

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/gofhir/modelinfo/pkg/config"
)

func TestParseNamed(t *testing.T) {
	tests := []struct {
		in   string
		want NamedType
	}{
		{"System.String", NamedType{Model: "System", Name: "String"}},
		{"FHIR.Patient.ContactComponent", NamedType{Model: "FHIR", Name: "Patient.ContactComponent"}},
		{"Interval<System.DateTime>", NamedType{Name: "Interval<System.DateTime>"}},
		{"Patient", NamedType{Name: "Patient"}},
	}
	for _, tt := range tests {
		if got := ParseNamed(tt.in); got != tt.want {
			t.Errorf("ParseNamed(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if got := ParseNamed(tt.in).Qualified(); got != tt.in {
			t.Errorf("Qualified() round trip = %q, want %q", got, tt.in)
		}
	}
}

func TestSpecifierStrings(t *testing.T) {
	choice := ChoiceType{Choices: []TypeSpecifier{
		NamedType{"FHIR", "Quantity"},
		NamedType{"FHIR", "CodeableConcept"},
	}}
	tests := []struct {
		ts   TypeSpecifier
		want string
	}{
		{NamedType{"FHIR", "string"}, "FHIR.string"},
		{ListType{Element: NamedType{"FHIR", "HumanName"}}, "List<FHIR.HumanName>"},
		{choice, "Choice<FHIR.Quantity,FHIR.CodeableConcept>"},
		{ListType{Element: choice}, "List<Choice<FHIR.Quantity,FHIR.CodeableConcept>>"},
		{UnresolvedType{Reference: "#Questionnaire.item"}, "Unresolved(#Questionnaire.item)"},
	}
	for _, tt := range tests {
		if got := tt.ts.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestCombineDedupsInOrder(t *testing.T) {
	q := NamedType{"FHIR", "Quantity"}
	cc := NamedType{"FHIR", "CodeableConcept"}

	got := Combine([]TypeSpecifier{q, cc, q})
	want := ChoiceType{Choices: []TypeSpecifier{q, cc}}
	if !Equal(got, want) {
		t.Errorf("Combine() = %s, want %s", got, want)
	}
	if got := Combine([]TypeSpecifier{q, q}); !Equal(got, q) {
		t.Errorf("Combine(duplicates) = %s, want %s", got, q)
	}
	if Combine(nil) != nil {
		t.Error("Combine(nil) should be nil")
	}
}

func TestWrapListAndElementType(t *testing.T) {
	n := NamedType{"FHIR", "Identifier"}
	if got := WrapList(n, false); !Equal(got, n) {
		t.Errorf("WrapList(false) = %s", got)
	}
	l := WrapList(n, true)
	if !Equal(l, ListType{Element: n}) {
		t.Errorf("WrapList(true) = %s", l)
	}
	if !Equal(ElementType(l), n) || !Equal(ElementType(n), n) {
		t.Error("ElementType did not unwrap")
	}
	if WrapList(nil, true) != nil {
		t.Error("WrapList(nil) should stay nil")
	}
}

func TestIsResolved(t *testing.T) {
	u := UnresolvedType{Reference: "#Questionnaire.item"}
	if IsResolved(u) || IsResolved(ListType{Element: u}) || IsResolved(ChoiceType{Choices: []TypeSpecifier{NamedType{"A", "B"}, u}}) {
		t.Error("unresolved specifier reported as resolved")
	}
	if !IsResolved(ListType{Element: NamedType{"FHIR", "Coding"}}) {
		t.Error("named list reported as unresolved")
	}
}

func TestEqual(t *testing.T) {
	a := ListType{Element: NamedType{"FHIR", "Coding"}}
	if !Equal(a, ListType{Element: NamedType{"FHIR", "Coding"}}) {
		t.Error("equal lists compare unequal")
	}
	if Equal(a, NamedType{"FHIR", "Coding"}) {
		t.Error("list equals its element")
	}
	if Equal(ChoiceType{Choices: []TypeSpecifier{NamedType{"A", "B"}}}, ChoiceType{}) {
		t.Error("choices of different length compare equal")
	}
}

func TestMergeKeepsEarliestBaseType(t *testing.T) {
	first := &TypeEntry{Model: "FHIR", Name: "Patient", BaseType: "FHIR.DomainResource", Label: "old",
		Properties: []Property{{Name: "active", Type: NamedType{"FHIR", "boolean"}}}}
	second := &TypeEntry{Model: "FHIR", Name: "Patient", BaseType: "FHIR.Resource", Label: "new",
		Properties: []Property{{Name: "gender", Type: NamedType{"FHIR", "code"}}}}

	merged := Merge(first, second)
	if merged.BaseType != "FHIR.DomainResource" {
		t.Errorf("BaseType = %q, want the earliest", merged.BaseType)
	}
	if merged.Label != "new" || len(merged.Properties) != 1 || merged.Properties[0].Name != "gender" {
		t.Errorf("non-base fields not replaced: %+v", merged)
	}

	// An empty earlier base type takes the new one.
	merged = Merge(&TypeEntry{Model: "FHIR", Name: "Patient"}, second)
	if merged.BaseType != "FHIR.Resource" {
		t.Errorf("BaseType = %q, want FHIR.Resource", merged.BaseType)
	}

	// Merge is pure.
	merged.Properties[0].Name = "changed"
	if second.Properties[0].Name != "gender" {
		t.Error("Merge aliased the incoming properties")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Put(&TypeEntry{Model: "FHIR", Name: "Patient", BaseType: "FHIR.DomainResource"})
	r.Put(&TypeEntry{Model: "FHIR", Name: "Account"})
	r.Put(&TypeEntry{Model: "USCore", Name: "Patient", BaseType: "FHIR.Patient"})
	stored := r.Put(&TypeEntry{Model: "FHIR", Name: "Patient", BaseType: "FHIR.Other", Label: "Patient"})

	if stored.BaseType != "FHIR.DomainResource" || stored.Label != "Patient" {
		t.Errorf("Put did not merge: %+v", stored)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
	keys := r.Keys()
	want := []string{"FHIR.Account", "FHIR.Patient", "USCore.Patient"}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
	if fhir := r.Entries("FHIR"); len(fhir) != 2 || fhir[0].Name != "Account" {
		t.Errorf("Entries(FHIR) = %v", fhir)
	}
	if all := r.Entries(""); len(all) != 3 {
		t.Errorf("Entries(\"\") = %d, want 3", len(all))
	}
	if _, ok := r.Lookup("USCore", "Patient"); !ok {
		t.Error("Lookup(USCore, Patient) failed")
	}

	ok := r.Update("FHIR.Account", func(e *TypeEntry) {
		e.AddRelationship(Relationship{Context: "Patient", RelatedKeyElement: "subject"})
		e.AddRelationship(Relationship{Context: "Patient", RelatedKeyElement: "subject"})
	})
	if !ok {
		t.Fatal("Update(FHIR.Account) returned false")
	}
	acct, _ := r.Get("FHIR.Account")
	if len(acct.Relationships) != 1 {
		t.Errorf("relationships = %v, want one", acct.Relationships)
	}
	if r.Update("FHIR.Missing", func(*TypeEntry) {}) {
		t.Error("Update of a missing key should return false")
	}
}

func TestRegistryConcurrentPut(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Put(&TypeEntry{Model: "FHIR", Name: "T" + string(rune('a'+i))})
			_ = r.Keys()
		}(i)
	}
	wg.Wait()
	if r.Len() != 20 {
		t.Errorf("Len() = %d, want 20", r.Len())
	}
}

func TestAssemble(t *testing.T) {
	r := NewRegistry()
	r.Put(&TypeEntry{Model: "FHIR", Name: "boolean", BaseType: "FHIR.Element",
		Properties: []Property{{Name: "value", Type: NamedType{"System", "Boolean"}}}})
	r.Put(&TypeEntry{Model: "FHIR", Name: "AdministrativeGender", BaseType: "FHIR.Element",
		Properties: []Property{{Name: "value", Type: NamedType{"System", "String"}}}})
	r.Put(&TypeEntry{Model: "FHIR", Name: "Coding", BaseType: "FHIR.Element",
		Properties: []Property{{Name: "code", Type: NamedType{"FHIR", "code"}}}})
	r.Put(&TypeEntry{Model: "FHIR", Name: "Patient", BaseType: "FHIR.DomainResource", Retrievable: true,
		Properties: []Property{{Name: "gender", Type: NamedType{"FHIR", "AdministrativeGender"}}}})
	r.Put(&TypeEntry{Model: "FHIR", Name: "Multi", BaseType: "FHIR.Element",
		Properties: []Property{{Name: "value", Type: ListType{Element: NamedType{"System", "String"}}}}})
	r.Put(&TypeEntry{Model: "USCore", Name: "Patient", BaseType: "FHIR.Patient"})

	settings := config.Default()
	fhir, _ := settings.Model(config.ModelFHIR)
	ctx := []ContextInfo{{Name: "Patient", KeyElement: "id", BirthDateElement: "birthDate.value", ContextType: NamedType{"FHIR", "Patient"}}}

	mi := Assemble(r, fhir, ctx)
	if mi.Name != "FHIR" || mi.Version != "4.0.1" || mi.PatientClassName != "FHIR.Patient" {
		t.Errorf("header = %+v", mi)
	}
	names := make([]string, len(mi.TypeInfo))
	for i, e := range mi.TypeInfo {
		names[i] = e.Name
	}
	if strings.Join(names, ",") != "AdministrativeGender,Coding,Multi,Patient,boolean" {
		t.Errorf("TypeInfo order = %v", names)
	}
	if _, ok := mi.Type("USCore.Patient"); ok {
		t.Error("other models must not be assembled")
	}
	if p, ok := mi.Type("Patient"); !ok || !p.Retrievable {
		t.Error("Type(Patient) lookup failed")
	}

	if c, ok := mi.Conversion("FHIR.boolean"); !ok || c.ToType != "System.Boolean" || c.FunctionName != "FHIRHelpers.ToBoolean" {
		t.Errorf("derived boolean conversion = %+v, %v", c, ok)
	}
	if c, ok := mi.Conversion("FHIR.AdministrativeGender"); !ok || c.FunctionName != "FHIRHelpers.ToString" {
		t.Errorf("derived binding conversion = %+v, %v", c, ok)
	}
	if c, ok := mi.Conversion("FHIR.Coding"); !ok || c.FunctionName != "FHIRHelpers.ToCode" {
		t.Errorf("curated Coding conversion should win: %+v", c)
	}
	if _, ok := mi.Conversion("FHIR.Multi"); ok {
		t.Error("list-typed single property should not derive a conversion")
	}
	if _, ok := mi.Conversion("FHIR.Patient"); ok {
		t.Error("non-Element base should not derive a conversion")
	}
	if len(mi.ContextInfo) != 1 || mi.ContextInfo[0].KeyElement != "id" {
		t.Errorf("ContextInfo = %+v", mi.ContextInfo)
	}

	// Assembled entries are copies.
	mi.TypeInfo[0].Properties[0].Name = "x"
	if e, _ := r.Lookup("FHIR", "AdministrativeGender"); e.Properties[0].Name != "value" {
		t.Error("Assemble aliased registry entries")
	}
}

func TestPropertyJSON(t *testing.T) {
	tests := []struct {
		p    Property
		want string
	}{
		{
			Property{Name: "active", Type: NamedType{"FHIR", "boolean"}},
			`{"name":"active","elementType":"FHIR.boolean"}`,
		},
		{
			Property{Name: "name", Type: ListType{Element: NamedType{"FHIR", "HumanName"}}},
			`{"name":"name","elementTypeSpecifier":{"type":"ListTypeSpecifier","elementType":"FHIR.HumanName"}}`,
		},
		{
			Property{Name: "Phone", Type: NamedType{"FHIR", "ContactPoint"}, Target: "%parent.telecom[system='phone']"},
			`{"name":"Phone","elementType":"FHIR.ContactPoint","target":"%parent.telecom[system='phone']"}`,
		},
		{
			Property{Name: "deceased", Type: ChoiceType{Choices: []TypeSpecifier{NamedType{"FHIR", "boolean"}, NamedType{"FHIR", "dateTime"}}}},
			`{"name":"deceased","elementTypeSpecifier":{"type":"ChoiceTypeSpecifier","choice":[{"type":"NamedTypeSpecifier","modelName":"FHIR","name":"boolean"},{"type":"NamedTypeSpecifier","modelName":"FHIR","name":"dateTime"}]}}`,
		},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.p)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if string(data) != tt.want {
			t.Errorf("Marshal(%s) =\n%s\nwant\n%s", tt.p.Name, data, tt.want)
		}
	}
}

func TestTypeEntryJSON(t *testing.T) {
	e := &TypeEntry{
		Model: "FHIR", Name: "Observation", BaseType: "FHIR.DomainResource", Retrievable: true,
		PrimaryCodePath: "code",
		Relationships:   []Relationship{{Context: "Patient", RelatedKeyElement: "subject"}},
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"namespace":"FHIR"`, `"primaryCodePath":"code"`, `"contextRelationship":[{"context":"Patient","relatedKeyElement":"subject"}]`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON %s missing %s", data, want)
		}
	}
}
