package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Fingerprint computes the deterministic identity of a unit of work from
// the client, the skill, and the normalized input parameters. Identical
// fingerprints denote logically identical work.
func Fingerprint(clientID, skillName string, params map[string]interface{}) (string, error) {
	normalized, err := normalizeParams(params)
	if err != nil {
		return "", fmt.Errorf("failed to normalize parameters: %w", err)
	}

	payload := struct {
		ClientID  string      `json:"clientId"`
		SkillName string      `json:"skillName"`
		Params    interface{} `json:"params"`
	}{
		ClientID:  strings.TrimSpace(clientID),
		SkillName: strings.TrimSpace(skillName),
		Params:    normalized,
	}

	// json.Marshal writes map keys in sorted order, which makes the
	// digest stable across param orderings.
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fingerprint payload: %w", err)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeParams canonicalizes parameter values: strings are
// whitespace-trimmed, numbers collapse to their JSON form, nested maps and
// slices are walked recursively.
func normalizeParams(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return normalizeValue(decoded), nil
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
