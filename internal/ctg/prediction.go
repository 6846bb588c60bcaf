package ctg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// UnknownLabel is substituted when the prediction service omits the label.
const UnknownLabel = "Unknown"

// Category is the display bucket a label falls into.
type Category string

const (
	CategoryNormal     Category = "Normal"
	CategorySuspect    Category = "Suspect"
	CategoryPathologic Category = "Pathologic"
	CategoryNonCTG     Category = "Non-CTG"
	CategoryUnknown    Category = "Unknown"
)

// Categorize maps a raw service label onto a display category.
func Categorize(label string) Category {
	normalized := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.Contains(normalized, "non ctg"):
		return CategoryNonCTG
	case normalized == "normal":
		return CategoryNormal
	case normalized == "suspect":
		return CategorySuspect
	case normalized == "pathologic":
		return CategoryPathologic
	default:
		return CategoryUnknown
	}
}

// Feature is one extracted measurement.
type Feature struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Display renders the value the way it appeared on the wire.
func (f Feature) Display() string {
	switch v := f.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}

// Features keeps the order in which the service listed them.
type Features []Feature

// UnmarshalJSON decodes a JSON object while preserving key order.
func (f *Features) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = Features{}
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("features: expected object, got %v", tok)
	}

	out := Features{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("features: unexpected key %v", keyTok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("features: value for %q: %w", key, err)
		}
		out = append(out, Feature{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

// PredictionResult is the classification of one submitted image.
type PredictionResult struct {
	Label    string   `json:"label"`
	Features Features `json:"features"`
}

// Normalize fills the defaults for fields the service left out.
func (r *PredictionResult) Normalize() {
	if strings.TrimSpace(r.Label) == "" {
		r.Label = UnknownLabel
	}
	if r.Features == nil {
		r.Features = Features{}
	}
}

// Category returns the display category for the result's label.
func (r *PredictionResult) Category() Category {
	if r == nil {
		return CategoryUnknown
	}
	return Categorize(r.Label)
}

// ShowFeatures reports whether the feature table should be rendered.
func (r *PredictionResult) ShowFeatures() bool {
	if r == nil {
		return false
	}
	return r.Category() != CategoryNonCTG && len(r.Features) > 0
}
