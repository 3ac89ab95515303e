package models

// ResultStatusMultipleMatches marks an ambiguity outcome: not an error, the user must choose.
const ResultStatusMultipleMatches = "multiple_matches"

// Result is the normalized envelope every capability back-end returns.
type Result struct {
	Success     bool             `json:"success"`
	Data        any              `json:"data,omitempty"`
	Error       string           `json:"error,omitempty"`
	StatusCode  int              `json:"status_code,omitempty"`
	Status      string           `json:"status,omitempty"`
	Matches     []map[string]any `json:"matches,omitempty"`
	SideEffects *SideEffects     `json:"side_effects,omitempty"`
}

// SideEffects reports the business records a capability created or changed.
type SideEffects struct {
	Created []EntityRef `json:"created,omitempty"`
	Updated []EntityRef `json:"updated,omitempty"`
}

// EntityRef identifies a business record touched by a capability.
type EntityRef struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

// IsMultipleMatches reports whether the result is an ambiguity outcome.
func (r Result) IsMultipleMatches() bool {
	return r.Status == ResultStatusMultipleMatches
}

// MultipleMatches builds an ambiguity outcome carrying the candidate records.
func MultipleMatches(matches []map[string]any) Result {
	return Result{
		Success: true,
		Status:  ResultStatusMultipleMatches,
		Matches: matches,
		Data:    map[string]any{"status": ResultStatusMultipleMatches, "matches": matches},
	}
}

// Failure builds a failed result.
func Failure(message string, statusCode int) Result {
	return Result{Success: false, Error: message, StatusCode: statusCode}
}
