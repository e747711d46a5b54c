package queue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultAnnotationKey is the user metadata key carrying document
// annotations as a JSON object.
const DefaultAnnotationKey = "helium"

// Annotation is the decoded side-channel metadata of an object.
type Annotation struct {
	Comment string
	Target  string

	// UserMeta is nil when the annotation has no user_meta field.
	UserMeta map[string]any

	// Extra holds every other top-level field.
	Extra map[string]any
}

// DecodeAnnotation parses raw. An empty string is an empty annotation.
func DecodeAnnotation(raw string) (Annotation, error) {
	var a Annotation
	if strings.TrimSpace(raw) == "" {
		return a, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Annotation{}, fmt.Errorf("failed to decode annotation: %w", err)
	}

	for k, v := range fields {
		switch k {
		case "comment":
			a.Comment = stringify(v)
		case "target":
			a.Target = stringify(v)
		case "user_meta":
			if v == nil {
				continue
			}
			m, ok := v.(map[string]any)
			if !ok {
				return Annotation{}, fmt.Errorf("user_meta is %T, not an object", v)
			}
			a.UserMeta = m
		default:
			if a.Extra == nil {
				a.Extra = make(map[string]any)
			}
			a.Extra[k] = v
		}
	}
	return a, nil
}

// MetaText flattens the annotation into one searchable string.
func (a Annotation) MetaText() string {
	parts := []string{a.Comment, a.Target, "", ""}
	if len(a.Extra) > 0 {
		parts[2] = compactJSON(a.Extra)
	}
	if a.UserMeta != nil {
		parts[3] = compactJSON(a.UserMeta)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// annotationFrom looks key up in object metadata. S3 lower-cases user
// metadata names, so the lookup ignores case.
func annotationFrom(meta map[string]string, key string) (string, bool) {
	if v, ok := meta[key]; ok {
		return v, true
	}
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return compactJSON(t)
	}
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
