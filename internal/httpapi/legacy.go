package httpapi

import (
	"bytes"
	"encoding/json"
	"strings"

	"gaspos/client/internal/domain"
)

const legacyTimeLayout = "2006-01-02 15:04:05.999999-07"

// legacyShape rewrites a response the way pre-camelCase API builds emitted
// it: "id" becomes a numeric "ID", "<name>Id" becomes "<Name>ID" and
// "createdAt" becomes "created_at" in PostgreSQL text form.
func legacyShape(payload any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return legacyValue(tree), nil
}

func legacyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, inner := range val {
			name, converted := legacyField(key, legacyValue(inner))
			out[name] = converted
		}
		return out
	case []any:
		for i := range val {
			val[i] = legacyValue(val[i])
		}
		return val
	}
	return v
}

func legacyField(key string, val any) (string, any) {
	switch {
	case key == "id":
		return "ID", numericID(val)
	case key == "createdAt":
		if s, ok := val.(string); ok {
			if t, err := domain.ParseTimestamp(s); err == nil {
				return "created_at", t.UTC().Format(legacyTimeLayout)
			}
		}
		return "created_at", val
	case strings.HasSuffix(key, "Id") && len(key) > 2:
		return strings.ToUpper(key[:1]) + key[1:len(key)-2] + "ID", numericID(val)
	}
	return key, val
}

func numericID(val any) any {
	s, ok := val.(string)
	if !ok || s == "" {
		return val
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return val
		}
	}
	return json.Number(s)
}
