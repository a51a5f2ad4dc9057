package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
)

var (
	reDate      = regexp.MustCompile(datePattern)
	reCodeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
	altLayouts  = []string{"02/01/2006", "02-01-2006", "2006/01/02", "02.01.2006", "2 January 2006", "02 Jan 2006"}
)

// Decode turns a raw oracle answer into extracted data. Fields that are
// unknown, null or blank are dropped; confidences and dates are normalised
// before strict schema validation. Returns the names of dropped keys.
func (s *DocumentSpec) Decode(raw []byte) (domain.ExtractedData, []string, error) {
	cleaned, dropped, err := s.Sanitize(raw)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Validate(cleaned); err != nil {
		return nil, dropped, err
	}
	var data domain.ExtractedData
	if err := json.Unmarshal(cleaned, &data); err != nil {
		return nil, dropped, fmt.Errorf("%w: %v", errors.ErrOracleSchema, err)
	}
	if data == nil {
		data = domain.ExtractedData{}
	}
	return data, dropped, nil
}

// Sanitize normalises an answer so it can pass strict validation.
func (s *DocumentSpec) Sanitize(raw []byte) ([]byte, []string, error) {
	text := strings.TrimSpace(string(raw))
	if m := reCodeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, nil, fmt.Errorf("%w: response is not a JSON object: %v", errors.ErrOracleSchema, err)
	}
	// Some models wrap the answer in {"fields": {...}}.
	if inner, ok := m["fields"].(map[string]any); ok && len(m) == 1 {
		m = inner
	}

	var dropped []string
	out := make(map[string]any, len(m))
	for key, v := range m {
		f, ok := s.Field(key)
		if !ok {
			dropped = append(dropped, key+"(unknown)")
			continue
		}
		field, reason := normaliseField(f, v)
		if reason != "" {
			dropped = append(dropped, key+"("+reason+")")
			continue
		}
		out[key] = field
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}

func normaliseField(f FieldSpec, v any) (map[string]any, string) {
	obj, ok := v.(map[string]any)
	if !ok {
		// Bare value without a confidence; treat as unscored.
		obj = map[string]any{"value": v, "confidence": 0.0}
	}

	value, ok := normaliseValue(f, obj["value"])
	if !ok {
		if isBlank(obj["value"]) {
			return nil, "empty"
		}
		return nil, "invalid"
	}
	conf, ok := normaliseConfidence(obj["confidence"])
	if !ok {
		return nil, "confidence"
	}
	return map[string]any{"value": value, "confidence": conf}, ""
}

func normaliseValue(f FieldSpec, v any) (any, bool) {
	switch f.Kind {
	case KindList:
		var items []string
		switch t := v.(type) {
		case []any:
			for _, it := range t {
				if s := scalarString(it); s != "" {
					items = append(items, s)
				}
			}
		default:
			for _, part := range strings.Split(scalarString(t), ",") {
				if p := strings.TrimSpace(part); p != "" {
					items = append(items, p)
				}
			}
		}
		if len(items) == 0 {
			return nil, false
		}
		return items, true

	case KindDate:
		s := scalarString(v)
		if s == "" {
			return nil, false
		}
		if reDate.MatchString(s) {
			return s, true
		}
		if d, err := domain.ParseDate(s); err == nil {
			return d.String(), true
		}
		for _, layout := range altLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Format(domain.DateLayout), true
			}
		}
		return nil, false

	case KindEnum:
		s := strings.ToUpper(scalarString(v))
		for _, allowed := range f.Values {
			if s == allowed {
				return s, true
			}
		}
		return nil, false
	}

	s := scalarString(v)
	if s == "" {
		return nil, false
	}
	return s, true
}

func isBlank(v any) bool {
	if list, ok := v.([]any); ok {
		return len(list) == 0
	}
	return scalarString(v) == ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// normaliseConfidence clamps to [0,1]; values in (1,100] are read as percentages.
func normaliseConfidence(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case nil:
		return 0, true
	case float64:
		f = t
	case string:
		p, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	switch {
	case f < 0:
		f = 0
	case f > 1 && f <= 100:
		f /= 100
	case f > 100:
		f = 1
	}
	return f, true
}
