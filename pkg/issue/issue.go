// Package issue defines the skip log produced by a compiler run.
//
// Issues follow the FHIR OperationOutcome vocabulary (severity + issue type) so the
// report can be handed to FHIR tooling unchanged. Nothing in this package is fatal:
// a run always completes and the report records what was skipped and why.
package issue

import (
	"sort"
	"sync"
)

// Severity represents the severity of an issue.
type Severity string

// Severity constants aligned with FHIR IssueSeverity.
const (
	SeverityFatal       Severity = "fatal"
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
)

// Code represents the type of issue (IssueType).
type Code string

// Code constants aligned with FHIR IssueType.
const (
	CodeInvalid       Code = "invalid"
	CodeStructure     Code = "structure"
	CodeNotFound      Code = "not-found"
	CodeDuplicate     Code = "duplicate"
	CodeNotSupported  Code = "not-supported"
	CodeProcessing    Code = "processing"
	CodeException     Code = "exception"
	CodeInformational Code = "informational"
)

// Issue represents a single diagnostic.
type Issue struct {
	// Severity indicates the severity level (error, warning, etc.)
	Severity Severity

	// Code indicates the type of issue
	Code Code

	// Diagnostics is the human-readable description of the issue
	Diagnostics string

	// Expression points at the offending item: a file path, canonical URL,
	// resource id or element path.
	Expression []string

	// Source identifies the component that produced the issue (atlas, builder, ...)
	Source string

	// MessageID is the identifier from the diagnostic catalog
	MessageID string
}

// Report collects issues from all phases of a run. It is safe for concurrent use.
type Report struct {
	mu     sync.Mutex
	issues []Issue
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{issues: make([]Issue, 0, 16)}
}

// Add appends an issue.
func (r *Report) Add(issue Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issues = append(r.issues, issue)
}

// AddError adds an error-level issue.
func (r *Report) AddError(code Code, diagnostics string, expression ...string) {
	r.Add(Issue{
		Severity:    SeverityError,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expression,
	})
}

// AddWarning adds a warning-level issue.
func (r *Report) AddWarning(code Code, diagnostics string, expression ...string) {
	r.Add(Issue{
		Severity:    SeverityWarning,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expression,
	})
}

// Issues returns a copy of the collected issues in insertion order.
func (r *Report) Issues() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Issue, len(r.issues))
	copy(out, r.issues)
	return out
}

// Len returns the number of collected issues.
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.issues)
}

// HasErrors returns true if there are any error-level issues.
func (r *Report) HasErrors() bool {
	return r.count(func(i Issue) bool {
		return i.Severity == SeverityError || i.Severity == SeverityFatal
	}) > 0
}

// ErrorCount returns the number of error-level issues.
func (r *Report) ErrorCount() int {
	return r.count(func(i Issue) bool {
		return i.Severity == SeverityError || i.Severity == SeverityFatal
	})
}

// WarningCount returns the number of warning-level issues.
func (r *Report) WarningCount() int {
	return r.count(func(i Issue) bool { return i.Severity == SeverityWarning })
}

func (r *Report) count(match func(Issue) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.issues {
		if match(i) {
			n++
		}
	}
	return n
}

// ByCode returns the issues with the given code.
func (r *Report) ByCode(code Code) []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Issue
	for _, i := range r.issues {
		if i.Code == code {
			out = append(out, i)
		}
	}
	return out
}

// CountByMessageID summarizes the report by catalog id, sorted by id.
func (r *Report) CountByMessageID() []MessageCount {
	r.mu.Lock()
	counts := make(map[string]int)
	for _, i := range r.issues {
		counts[i.MessageID]++
	}
	r.mu.Unlock()

	out := make([]MessageCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, MessageCount{MessageID: id, Count: n})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].MessageID < out[b].MessageID })
	return out
}

// MessageCount is one row of CountByMessageID.
type MessageCount struct {
	MessageID string
	Count     int
}

// Merge combines another report into this one.
func (r *Report) Merge(other *Report) {
	if other == nil || other == r {
		return
	}
	for _, i := range other.Issues() {
		r.Add(i)
	}
}
