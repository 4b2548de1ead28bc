package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepResult is the outcome of one executed plan step. Data is
// free-form so different step kinds (search, synthesis, calculation)
// can carry their own shapes.
type StepResult struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime float64        `json:"execution_time"` // seconds
	Citations     []Citation     `json:"source_citations,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Duration converts the recorded execution time back to a duration.
func (r StepResult) Duration() time.Duration {
	return time.Duration(r.ExecutionTime * float64(time.Second))
}

// ToMap serialises the result into a generic map for embedding into
// event payloads and aggregated final results.
func (r StepResult) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal step result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal step result: %w", err)
	}
	return out, nil
}

// StepResultFromMap is the inverse of ToMap.
func StepResultFromMap(m map[string]any) (*StepResult, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal step result map: %w", err)
	}
	var r StepResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshal step result map: %w", err)
	}
	return &r, nil
}
