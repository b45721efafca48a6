package core

// validation.go checks a full batch of normalized records before any write.
//
// Validation happens at two levels:
//  1. Header validation: every canonical column must be present in the input
//  2. Row validation: email shape and status enum for every row
//
// Errors accumulate into a single list rather than short-circuiting, so a
// user fixing a 500-row file sees every defect in one pass. Any error fails
// the whole batch; the per-row tolerance applied later during sync is a
// separate policy.

import (
	"fmt"
	"regexp"
	"strings"
)

// emailPattern is a deliberately simple local@domain.tld shape check.
// Full RFC 5322 parsing accepts addresses the directory rejects anyway.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like a plausible email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// ValidationResult contains the outcome of validating a batch.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Err returns the result as a *ValidationError, or nil when the batch is
// valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Problems: r.Errors}
}

// ValidateRecords validates the original header row and every normalized
// record. headers is the header row exactly as it appeared in the input;
// records are in input order with 1-based row numbers.
func ValidateRecords(headers []string, records []UserRecord) ValidationResult {
	var errs []string

	if missing := missingHeaders(headers); len(missing) > 0 {
		errs = append(errs, fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")))
	}

	for _, rec := range records {
		if rec.Email == "" {
			errs = append(errs, fmt.Sprintf("row %d: Email is required", rec.Row))
		} else if !ValidEmail(rec.Email) {
			errs = append(errs, fmt.Sprintf("row %d: invalid email format: %q", rec.Row, rec.Email))
		}

		if !ValidStatus(string(rec.Status)) {
			errs = append(errs, fmt.Sprintf("row %d: status must be one of %s, got %q",
				rec.Row, statusList(), rec.Status))
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// missingHeaders returns the canonical columns absent from headers,
// compared case-insensitively.
func missingHeaders(headers []string) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.ToLower(strings.TrimSpace(h))] = true
	}

	var missing []string
	for _, required := range RequiredHeaders {
		if !present[strings.ToLower(required)] {
			missing = append(missing, required)
		}
	}
	return missing
}

func statusList() string {
	names := make([]string, len(Statuses))
	for i, s := range Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
