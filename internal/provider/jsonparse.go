package provider

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// stripFences removes a leading ```lang line and a trailing ``` fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseLoose parses text into a generic value, tolerating code fences and
// prose around a single top-level object.
func parseLoose(text string) (any, error) {
	body := stripFences(text)
	var v any
	if err := json.Unmarshal([]byte(body), &v); err == nil {
		return v, nil
	}
	start := strings.IndexAny(body, "{[")
	end := strings.LastIndexAny(body, "}]")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON value found")
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &v); err != nil {
		return nil, eris.Wrap(err, "decode embedded JSON")
	}
	return v, nil
}

// unwrapEnvelope detects the {"success": bool, "data": ...} shape. ok is
// false when the envelope reports failure.
func unwrapEnvelope(v any) (payload any, ok bool) {
	obj, isObj := v.(map[string]any)
	if !isObj {
		return v, true
	}
	success, hasSuccess := obj["success"].(bool)
	data, hasData := obj["data"]
	if !hasSuccess || !hasData {
		return v, true
	}
	if !success {
		return nil, false
	}
	return data, true
}

// decodeInto converts a generic value into the strict target type.
func decodeInto[T any](v any) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, eris.Wrap(err, "re-encode payload")
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&out); err != nil {
		return out, eris.Wrap(err, "decode payload")
	}
	return out, nil
}

// parseJSON runs the two-step parse: loose parse, envelope check, strict
// decode. The returned error describes the first step that failed.
func parseJSON[T any](text string) (T, error) {
	var zero T
	v, err := parseLoose(text)
	if err != nil {
		return zero, err
	}
	payload, ok := unwrapEnvelope(v)
	if !ok {
		return zero, eris.New("response envelope reported success=false")
	}
	return decodeInto[T](payload)
}
