package models

import "time"

type SubmissionDecision string

const (
	SubmittedDecision SubmissionDecision = "SUBMITTED"
	SkippedDecision   SubmissionDecision = "SKIPPED"
	FailedDecision    SubmissionDecision = "FAILED"
)

// Submission is one ledger entry for a (sample, pipeline) decision.
type Submission struct {
	ID          string             `json:"id" db:"id"`                     // UUID
	Project     string             `json:"project" db:"project"`           // Project name
	Sample      string             `json:"sample" db:"sample"`             // Sample name
	Pipeline    string             `json:"pipeline" db:"pipeline"`         // Pipeline key
	PriorStatus FlagStatus         `json:"prior_status" db:"prior_status"` // Authoritative flag status seen, empty if none
	Decision    SubmissionDecision `json:"decision" db:"decision"`         // What was done
	Command     string             `json:"command,omitempty" db:"command"` // Command handed to the dispatcher
	ErrorMsg    string             `json:"error,omitempty" db:"error_msg"` // Failure reason
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`     // Decision timestamp
}

// SubmissionSettings holds the resource request for one pipeline invocation.
// Keys other than "cores" and "mem" are carried but not interpreted.
type SubmissionSettings map[string]interface{}

// Clone returns a deep copy; nested maps and slices are copied too.
func (s SubmissionSettings) Clone() SubmissionSettings {
	if s == nil {
		return nil
	}
	out := make(SubmissionSettings, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case SubmissionSettings:
		return val.Clone()
	case map[string]interface{}:
		return map[string]interface{}(SubmissionSettings(val).Clone())
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// Merge returns a copy of s overlaid with other; s is left untouched.
func (s SubmissionSettings) Merge(other SubmissionSettings) SubmissionSettings {
	out := s.Clone()
	if out == nil {
		out = SubmissionSettings{}
	}
	for k, v := range other {
		out[k] = cloneValue(v)
	}
	return out
}
