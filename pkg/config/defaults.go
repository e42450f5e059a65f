package config

// Built-in model names.
const (
	ModelSystem = "System"
	ModelFHIR   = "FHIR"
	ModelUSCore = "USCore"
	ModelQICore = "QICore"
)

// fhirPrimitives maps FHIR primitive types to their CQL system types.
var fhirPrimitives = map[string]string{
	"FHIR.base64Binary": "System.String",
	"FHIR.boolean":      "System.Boolean",
	"FHIR.canonical":    "System.String",
	"FHIR.code":         "System.String",
	"FHIR.date":         "System.Date",
	"FHIR.dateTime":     "System.DateTime",
	"FHIR.decimal":      "System.Decimal",
	"FHIR.id":           "System.String",
	"FHIR.instant":      "System.DateTime",
	"FHIR.integer":      "System.Integer",
	"FHIR.markdown":     "System.String",
	"FHIR.oid":          "System.String",
	"FHIR.positiveInt":  "System.Integer",
	"FHIR.string":       "System.String",
	"FHIR.time":         "System.Time",
	"FHIR.unsignedInt":  "System.Integer",
	"FHIR.uri":          "System.String",
	"FHIR.url":          "System.String",
	"FHIR.uuid":         "System.String",
	"FHIR.xhtml":        "System.String",
}

// fhirAliases collapses FHIR structures onto CQL system types.
var fhirAliases = map[string]string{
	"FHIR.Coding":          "System.Code",
	"FHIR.CodeableConcept": "System.Concept",
	"FHIR.Period":          "Interval<System.DateTime>",
	"FHIR.Range":           "Interval<System.Quantity>",
	"FHIR.Quantity":        "System.Quantity",
	"FHIR.Age":             "System.Quantity",
	"FHIR.Distance":        "System.Quantity",
	"FHIR.Duration":        "System.Quantity",
	"FHIR.Count":           "System.Quantity",
	"FHIR.MoneyQuantity":   "System.Quantity",
	"FHIR.SimpleQuantity":  "System.Quantity",
	"FHIR.Ratio":           "System.Ratio",
}

// fhirConversions are the hand-written FHIRHelpers conversions.
var fhirConversions = []Conversion{
	{FromType: "FHIR.Coding", ToType: "System.Code", FunctionName: "FHIRHelpers.ToCode"},
	{FromType: "FHIR.CodeableConcept", ToType: "System.Concept", FunctionName: "FHIRHelpers.ToConcept"},
	{FromType: "FHIR.Quantity", ToType: "System.Quantity", FunctionName: "FHIRHelpers.ToQuantity"},
	{FromType: "FHIR.Age", ToType: "System.Quantity", FunctionName: "FHIRHelpers.ToQuantity"},
	{FromType: "FHIR.Distance", ToType: "System.Quantity", FunctionName: "FHIRHelpers.ToQuantity"},
	{FromType: "FHIR.Duration", ToType: "System.Quantity", FunctionName: "FHIRHelpers.ToQuantity"},
	{FromType: "FHIR.Count", ToType: "System.Quantity", FunctionName: "FHIRHelpers.ToQuantity"},
	{FromType: "FHIR.MoneyQuantity", ToType: "System.Quantity", FunctionName: "FHIRHelpers.ToQuantity"},
	{FromType: "FHIR.SimpleQuantity", ToType: "System.Quantity", FunctionName: "FHIRHelpers.ToQuantity"},
	{FromType: "FHIR.Period", ToType: "Interval<System.DateTime>", FunctionName: "FHIRHelpers.ToInterval"},
	{FromType: "FHIR.Range", ToType: "Interval<System.Quantity>", FunctionName: "FHIRHelpers.ToInterval"},
	{FromType: "FHIR.Ratio", ToType: "System.Ratio", FunctionName: "FHIRHelpers.ToRatio"},
}

// defaultPrimaryCodePaths covers resources whose primary code is not a property
// named "code" of a codeable type.
var defaultPrimaryCodePaths = map[string]string{
	"ActivityDefinition":         "topic",
	"AdverseEvent":               "event",
	"AllergyIntolerance":         "code",
	"Appointment":                "serviceType",
	"Basic":                      "code",
	"CarePlan":                   "category",
	"CareTeam":                   "category",
	"ChargeItemDefinition":       "code",
	"Claim":                      "type",
	"ClinicalImpression":         "code",
	"Communication":              "category",
	"CommunicationRequest":       "category",
	"Composition":                "type",
	"Condition":                  "code",
	"Consent":                    "category",
	"Coverage":                   "type",
	"DetectedIssue":              "code",
	"Device":                     "type",
	"DeviceMetric":               "type",
	"DeviceRequest":              "code",
	"DiagnosticReport":           "code",
	"DocumentManifest":           "type",
	"DocumentReference":          "type",
	"Encounter":                  "type",
	"EpisodeOfCare":              "type",
	"ExplanationOfBenefit":       "type",
	"Flag":                       "code",
	"Goal":                       "category",
	"GuidanceResponse":           "module",
	"HealthcareService":          "type",
	"ImagingStudy":               "procedureCode",
	"Immunization":               "vaccineCode",
	"ImmunizationRecommendation": "recommendation.vaccineCode",
	"Library":                    "topic",
	"Location":                   "type",
	"Measure":                    "topic",
	"MeasureReport":              "measure.topic",
	"Medication":                 "code",
	"MedicationAdministration":   "medication",
	"MedicationDispense":         "medication",
	"MedicationRequest":          "medication",
	"MedicationStatement":        "medication",
	"MessageDefinition":          "event",
	"Observation":                "code",
	"OperationOutcome":           "issue.code",
	"PlanDefinition":             "type",
	"Procedure":                  "code",
	"ProcedureRequest":           "code",
	"Questionnaire":              "name",
	"ReferralRequest":            "type",
	"RiskAssessment":             "code",
	"SearchParameter":            "target",
	"Sequence":                   "type",
	"ServiceRequest":             "code",
	"Specimen":                   "type",
	"Substance":                  "code",
	"SupplyDelivery":             "type",
	"SupplyRequest":              "category",
	"Task":                       "code",
}

var defaultCodeableTypes = []string{
	"FHIR.CodeableConcept",
	"FHIR.Coding",
	"FHIR.code",
	"System.Code",
	"System.Concept",
	"System.String",
}

// Default returns the built-in settings for FHIR 4.0.1, US Core and QI-Core.
func Default() *Settings {
	s := &Settings{
		URLToModel: map[string]string{
			"http://hl7.org/fhir":           ModelFHIR,
			"http://hl7.org/fhir/us/core":   ModelUSCore,
			"http://hl7.org/fhir/us/qicore": ModelQICore,
		},
		PrimaryCodePath: cloneMap(defaultPrimaryCodePaths),
		CodeableTypes:   make(map[string]bool, len(defaultCodeableTypes)),
	}
	for _, t := range defaultCodeableTypes {
		s.CodeableTypes[t] = true
	}

	s.AddModel(&ModelSettings{
		Name:                         ModelFHIR,
		Version:                      "4.0.1",
		URL:                          "http://hl7.org/fhir",
		TargetQualifier:              "fhir",
		PatientClassName:             "FHIR.Patient",
		PatientBirthDatePropertyName: "birthDate.value",
		ConversionFunctionPrefix:     "FHIRHelpers.",
		PrimitiveTypeMappings:        map[string]string{},
		AliasMappings:                map[string]string{},
		Conversions:                  append([]Conversion(nil), fhirConversions...),
	})
	s.AddModel(&ModelSettings{
		Name:                         ModelUSCore,
		Version:                      "3.1.0",
		URL:                          "http://hl7.org/fhir/us/core",
		TargetQualifier:              "uscore",
		PatientClassName:             "USCore.Patient",
		PatientBirthDatePropertyName: "birthDate",
		ConversionFunctionPrefix:     "FHIRHelpers.",
		PrimitiveTypeMappings:        cloneMap(fhirPrimitives),
		AliasMappings:                cloneMap(fhirAliases),
		RequiredModels:               []RequiredModel{{Name: ModelFHIR, Version: "4.0.1"}},
	})
	s.AddModel(&ModelSettings{
		Name:                         ModelQICore,
		Version:                      "4.1.1",
		URL:                          "http://hl7.org/fhir/us/qicore",
		TargetQualifier:              "qicore",
		PatientClassName:             "QICore.Patient",
		PatientBirthDatePropertyName: "birthDate",
		ConversionFunctionPrefix:     "FHIRHelpers.",
		PrimitiveTypeMappings:        cloneMap(fhirPrimitives),
		AliasMappings:                cloneMap(fhirAliases),
		RequiredModels:               []RequiredModel{{Name: ModelFHIR, Version: "4.0.1"}},
	})
	return s
}
