package job

import "encoding/json"

// Summary is the observer-facing view of a job, shaped for the polling
// admin frontend: percentage runs 0–100 and the caller's metadata fields
// are merged into the top-level object verbatim.
type Summary struct {
	ID          string  `json:"id"`
	Status      State   `json:"status"`
	Percentage  float64 `json:"percentage"`
	Cancellable bool    `json:"cancellable"`
	Exception   string  `json:"exception,omitempty"`
	Traceback   string  `json:"traceback,omitempty"`

	// Metadata is merged into the serialized object rather than nested.
	Metadata map[string]any `json:"-"`
}

// Summarize builds the observer summary for a job.
func Summarize(j *Job) Summary {
	return Summary{
		ID:          j.ID.String(),
		Status:      j.State,
		Percentage:  j.Progress * 100,
		Cancellable: j.Cancellable,
		Exception:   j.Exception,
		Traceback:   j.Traceback,
		Metadata:    j.Metadata,
	}
}

// reserved names metadata may not override.
var reservedSummaryKeys = map[string]struct{}{
	"id": {}, "status": {}, "percentage": {},
	"cancellable": {}, "exception": {}, "traceback": {},
}

// MarshalJSON flattens Metadata into the summary object. Metadata keys
// colliding with the summary's own fields are dropped rather than
// allowed to mask scheduler truth.
func (s Summary) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":          s.ID,
		"status":      s.Status,
		"percentage":  s.Percentage,
		"cancellable": s.Cancellable,
	}
	if s.Exception != "" {
		out["exception"] = s.Exception
	}
	if s.Traceback != "" {
		out["traceback"] = s.Traceback
	}
	for k, v := range s.Metadata {
		if _, taken := reservedSummaryKeys[k]; taken {
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}
