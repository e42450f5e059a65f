// Package issue provides diagnostic message templates for the compiler's skip log.
package issue

import (
	"fmt"
	"sort"
	"strings"
)

// DiagnosticID identifies a specific diagnostic message.
type DiagnosticID string

// Diagnostic IDs for loading and indexing.
const (
	DiagLoadUnreadable    DiagnosticID = "LOAD_UNREADABLE"
	DiagLoadMalformed     DiagnosticID = "LOAD_MALFORMED"
	DiagLoadUnsupported   DiagnosticID = "LOAD_UNSUPPORTED_FORMAT"
	DiagIndexDuplicateURL DiagnosticID = "INDEX_DUPLICATE_URL"
	DiagIndexDuplicateID  DiagnosticID = "INDEX_DUPLICATE_ID"
	DiagIndexNoIdentity   DiagnosticID = "INDEX_NO_IDENTITY"
)

// Diagnostic IDs for type building.
const (
	DiagBuildModelUnresolved      DiagnosticID = "BUILD_MODEL_UNRESOLVED"
	DiagBuildBaseTypeUnresolved   DiagnosticID = "BUILD_BASE_TYPE_UNRESOLVED"
	DiagBuildContentRefUnresolved DiagnosticID = "BUILD_CONTENT_REFERENCE_UNRESOLVED"
	DiagBuildDocumentFailed       DiagnosticID = "BUILD_DOCUMENT_FAILED"
	DiagBuildNestedUnsupported    DiagnosticID = "BUILD_NESTED_CONSTRAINT_UNSUPPORTED"
	DiagBuildDuplicateProperty    DiagnosticID = "BUILD_DUPLICATE_PROPERTY"
)

// Diagnostic IDs for context derivation.
const (
	DiagContextTypeMissing        DiagnosticID = "CONTEXT_TYPE_MISSING"
	DiagContextSearchParamMissing DiagnosticID = "CONTEXT_SEARCH_PARAMETER_MISSING"
	DiagContextExpressionInvalid  DiagnosticID = "CONTEXT_EXPRESSION_INVALID"
)

// DiagnosticTemplate defines the structure for a diagnostic message.
type DiagnosticTemplate struct {
	ID       DiagnosticID
	Severity Severity
	Code     Code
	Template string
}

// diagnosticTemplates maps diagnostic IDs to their templates.
// Templates use {placeholder} syntax for variable substitution.
var diagnosticTemplates = map[DiagnosticID]DiagnosticTemplate{
	DiagLoadUnreadable: {
		Severity: SeverityError,
		Code:     CodeException,
		Template: "Cannot read '{source}': {error}",
	},
	DiagLoadMalformed: {
		Severity: SeverityError,
		Code:     CodeStructure,
		Template: "Malformed resource in '{source}': {error}",
	},
	DiagLoadUnsupported: {
		Severity: SeverityWarning,
		Code:     CodeNotSupported,
		Template: "Unsupported resource format '{format}' in '{source}'",
	},
	DiagIndexDuplicateURL: {
		Severity: SeverityWarning,
		Code:     CodeDuplicate,
		Template: "Duplicate canonical URL '{url}' ({kind}); keeping the first definition",
	},
	DiagIndexDuplicateID: {
		Severity: SeverityWarning,
		Code:     CodeDuplicate,
		Template: "Duplicate {kind} id '{id}' for '{url}' (already registered by '{existing}')",
	},
	DiagIndexNoIdentity: {
		Severity: SeverityWarning,
		Code:     CodeInvalid,
		Template: "{kind} has neither a canonical URL nor an id",
	},
	DiagBuildModelUnresolved: {
		Severity: SeverityError,
		Code:     CodeNotFound,
		Template: "No model is configured for '{url}'",
	},
	DiagBuildBaseTypeUnresolved: {
		Severity: SeverityError,
		Code:     CodeNotFound,
		Template: "Base definition '{base}' of '{id}' cannot be resolved",
	},
	DiagBuildContentRefUnresolved: {
		Severity: SeverityError,
		Code:     CodeNotFound,
		Template: "Content reference '{reference}' in '{id}' cannot be resolved",
	},
	DiagBuildDocumentFailed: {
		Severity: SeverityError,
		Code:     CodeProcessing,
		Template: "StructureDefinition '{id}' skipped: {error}",
	},
	DiagBuildNestedUnsupported: {
		Severity: SeverityWarning,
		Code:     CodeNotSupported,
		Template: "Unsupported nested constraint on '{path}' (type {type}); {count} child element(s) ignored",
	},
	DiagBuildDuplicateProperty: {
		Severity: SeverityWarning,
		Code:     CodeDuplicate,
		Template: "Property '{name}' already defined on '{type}'; slice ignored",
	},
	DiagContextTypeMissing: {
		Severity: SeverityWarning,
		Code:     CodeNotFound,
		Template: "Compartment '{code}' has no registered type '{type}'",
	},
	DiagContextSearchParamMissing: {
		Severity: SeverityWarning,
		Code:     CodeNotFound,
		Template: "Search parameter '{name}' for '{resource}' not found",
	},
	DiagContextExpressionInvalid: {
		Severity: SeverityWarning,
		Code:     CodeProcessing,
		Template: "Search parameter '{name}' expression '{expression}' is unusable: {error}",
	},
}

// FormatDiagnostic formats a diagnostic message with the given parameters.
func FormatDiagnostic(id DiagnosticID, params map[string]any) string {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		return string(id)
	}
	return formatTemplate(tmpl.Template, params)
}

// GetDiagnosticTemplate returns the template for a diagnostic ID.
func GetDiagnosticTemplate(id DiagnosticID) (DiagnosticTemplate, bool) {
	tmpl, ok := diagnosticTemplates[id]
	if ok {
		tmpl.ID = id
	}
	return tmpl, ok
}

// formatTemplate replaces {placeholder} with values from params.
// Keys are applied in sorted order so output is stable.
func formatTemplate(template string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := template
	for _, key := range keys {
		result = strings.ReplaceAll(result, "{"+key+"}", fmt.Sprint(params[key]))
	}
	return result
}

// AddWithID adds an issue using a diagnostic template; source names the reporting component.
func (r *Report) AddWithID(id DiagnosticID, source string, params map[string]any, expression ...string) {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		r.Add(Issue{
			Severity:    SeverityError,
			Code:        CodeProcessing,
			Diagnostics: string(id),
			Expression:  expression,
			Source:      source,
			MessageID:   string(id),
		})
		return
	}

	r.Add(Issue{
		Severity:    tmpl.Severity,
		Code:        tmpl.Code,
		Diagnostics: formatTemplate(tmpl.Template, params),
		Expression:  expression,
		Source:      source,
		MessageID:   string(id),
	})
}
