package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
)

// Response is a successful (or, with ReturnErrorPayload, failed) API result.
type Response struct {
	StatusCode int
	Method     string
	// Body is the decoded JSON object. Non-object JSON is stored under "data".
	Body map[string]any
	// Raw is set for raw and binary responses. The caller must close Raw.Body.
	Raw *http.Response
}

// Fields returns the body augmented with the numeric status and the request method.
func (r *Response) Fields() map[string]any {
	out := make(map[string]any, len(r.Body)+2)
	maps.Copy(out, r.Body)
	out["status"] = r.StatusCode
	out["method"] = r.Method
	return out
}

// Succeeded applies the backend's dual success convention: either the HTTP status
// is 200 or the payload reports statusCode "200".
func (r *Response) Succeeded() bool {
	if r.StatusCode == http.StatusOK {
		return true
	}
	switch v := r.Body["statusCode"].(type) {
	case string:
		return v == "200"
	case float64:
		return v == 200
	}
	return false
}

// Data returns the payload's "data" field.
func (r *Response) Data() (any, bool) {
	v, ok := r.Body["data"]
	return v, ok && v != nil
}

// Decode re-decodes the body into v.
func (r *Response) Decode(v any) error {
	data, err := json.Marshal(r.Body)
	if err != nil {
		return fmt.Errorf("encode response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// DecodeData decodes the payload's "data" field into v.
func (r *Response) DecodeData(v any) error {
	data, ok := r.Data()
	if !ok {
		return fmt.Errorf("response has no data")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode response data: %w", err)
	}
	return json.Unmarshal(raw, v)
}

// decodePayload decodes a JSON body. Empty bodies decode to an empty map and
// non-object values are wrapped under "data". Invalid JSON is reported as an error
// together with a map holding the raw text under "data".
func decodePayload(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return map[string]any{"data": string(trimmed)}, fmt.Errorf("decode response: %w", err)
	}
	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"data": v}, nil
}
