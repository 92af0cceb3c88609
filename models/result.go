package models

import (
	"encoding/json"
	"time"
)

// Product is one extracted marketplace record. Every field except Platform
// is omitted when empty, so the key set depends on what the page exposed.
type Product struct {
	Platform      string   `json:"platform"`
	URL           string   `json:"url,omitempty"`
	Title         string   `json:"title,omitempty"`
	Price         float64  `json:"price,omitempty"`
	OriginalPrice float64  `json:"originalPrice,omitempty"`
	Image         string   `json:"image,omitempty"`
	Shop          string   `json:"shop,omitempty"`
	Rating        float64  `json:"rating,omitempty"`
	Sales         int64    `json:"sales,omitempty"`
	Description   string   `json:"description,omitempty"`
	Attributes    []string `json:"attributes,omitempty"`
	ExtractedAt   string   `json:"extractedAt,omitempty"`
}

// BatchFailure is the per-item outcome of a failed batch URL.
type BatchFailure struct {
	Error string `json:"error"`
	URL   string `json:"url"`
}

// CrawlResult is produced exactly once per dispatched task.
type CrawlResult struct {
	TaskID        string `json:"taskId"`
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          string `json:"code,omitempty"`
	Blocked       bool   `json:"blocked,omitempty"`
	ExecutionTime int64  `json:"executionTime,omitempty"` // ms
	Timestamp     string `json:"timestamp"`
}

// UnmarshalJSON keeps Data as raw JSON so callers decode it into the
// shape they expect for the task type.
func (r *CrawlResult) UnmarshalJSON(b []byte) error {
	type alias CrawlResult
	aux := struct {
		*alias
		Data json.RawMessage `json:"data,omitempty"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if len(aux.Data) > 0 && string(aux.Data) != "null" {
		r.Data = aux.Data
	} else {
		r.Data = nil
	}
	return nil
}

// DecodeData unmarshals Data into v.
func (r *CrawlResult) DecodeData(v any) error {
	raw, ok := r.Data.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(r.Data); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, v)
}

// FailedResult builds a failure result for taskID.
func FailedResult(taskID string, err error) *CrawlResult {
	return &CrawlResult{
		TaskID:    taskID,
		Success:   false,
		Error:     err.Error(),
		Code:      ErrorCode(err),
		Timestamp: Now(),
	}
}

// Now formats the current time the way results and responses carry it.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
