// Package normalize maps inbound server payloads onto the canonical entity
// shape. The API has returned several casings over time (ID, CompanyID,
// company_id), numeric primary keys and PostgreSQL-formatted timestamps;
// everything is folded into the lowercase camelCase shape the domain types
// declare. Normalizing an already canonical record is a no-op.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"gaspos/client/internal/domain"
)

// Record is a decoded JSON object.
type Record = map[string]any

type fieldKind int

const (
	kindOther fieldKind = iota
	kindString
	kindTime
	kindInt
	kindBool
	kindNested
)

type field struct {
	name   string
	kind   fieldKind
	nested *Schema
}

// Schema describes the canonical keys of one entity type.
type Schema struct {
	byFold map[string]field
}

var (
	schemaMu    sync.Mutex
	schemas     = make(map[reflect.Type]*Schema)
	unmarshaler = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
)

var (
	Branch       = SchemaFor[domain.Branch]()
	Product      = SchemaFor[domain.Product]()
	Sale         = SchemaFor[domain.Sale]()
	User         = SchemaFor[domain.User]()
	Expense      = SchemaFor[domain.Expense]()
	Notification = SchemaFor[domain.Notification]()
)

// SchemaFor derives the schema of T from its json tags.
func SchemaFor[T any]() *Schema {
	return schemaOf(reflect.TypeOf((*T)(nil)).Elem())
}

func schemaOf(t reflect.Type) *Schema {
	schemaMu.Lock()
	defer schemaMu.Unlock()
	return schemaLocked(t)
}

func schemaLocked(t reflect.Type) *Schema {
	if cached, ok := schemas[t]; ok {
		return cached
	}
	s := &Schema{byFold: make(map[string]field)}
	schemas[t] = s
	s.collect(t)
	return s
}

func (s *Schema) collect(t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		ft := sf.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if sf.Anonymous && name == "" && ft.Kind() == reflect.Struct {
			s.collect(ft)
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		s.byFold[fold(name)] = field{name: name, kind: kindOf(name, ft), nested: nestedOf(ft)}
	}
}

func kindOf(name string, t reflect.Type) fieldKind {
	if reflect.PointerTo(t).Implements(unmarshaler) {
		if t.Kind() == reflect.String {
			return kindString
		}
		return kindOther
	}
	switch t.Kind() {
	case reflect.String:
		if strings.HasSuffix(name, "At") {
			return kindTime
		}
		return kindString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return kindInt
	case reflect.Bool:
		return kindBool
	case reflect.Struct:
		return kindNested
	}
	return kindOther
}

func nestedOf(t reflect.Type) *Schema {
	if t.Kind() != reflect.Struct || reflect.PointerTo(t).Implements(unmarshaler) {
		return nil
	}
	return schemaLocked(t)
}

func fold(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", ""))
}

// Record returns a canonical copy of in. Exact canonical keys win over
// legacy-cased duplicates; unknown keys are carried over untouched.
func (s *Schema) Record(in Record) Record {
	if in == nil {
		return nil
	}
	out := make(Record, len(in))
	exact := make(map[string]bool, len(in))
	for key, val := range in {
		f, ok := s.byFold[fold(key)]
		if !ok {
			out[key] = val
			continue
		}
		if exact[f.name] {
			continue
		}
		if key == f.name {
			exact[f.name] = true
		} else if _, taken := out[f.name]; taken {
			continue
		}
		out[f.name] = f.coerce(val)
	}
	return out
}

func (f field) coerce(val any) any {
	switch f.kind {
	case kindString:
		return coerceString(val)
	case kindTime:
		if s, ok := coerceString(val).(string); ok {
			return domain.NormalizeTimestamp(s)
		}
		return val
	case kindInt:
		if s, ok := val.(string); ok {
			if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return json.Number(strings.TrimSpace(s))
			}
		}
		return val
	case kindBool:
		switch v := val.(type) {
		case json.Number:
			return v.String() != "0"
		case float64:
			return v != 0
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
		return val
	case kindNested:
		if rec, ok := val.(map[string]any); ok && f.nested != nil {
			return f.nested.Record(rec)
		}
		return val
	}
	return val
}

func coerceString(val any) any {
	switch v := val.(type) {
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return val
}

// Decode parses one JSON object, normalizes it and decodes it into T.
func Decode[T any](raw []byte) (T, error) {
	var zero T
	rec, err := parseObject(raw)
	if err != nil {
		return zero, err
	}
	return FromRecord[T](rec)
}

// DecodeList parses a JSON array of objects into normalized values of T.
func DecodeList[T any](raw []byte) ([]T, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, err := Decode[T](item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FromRecord normalizes rec against T's schema and decodes it.
func FromRecord[T any](rec Record) (T, error) {
	var out T
	payload, err := json.Marshal(SchemaFor[T]().Record(rec))
	if err != nil {
		return out, fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}

func parseObject(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return rec, nil
}

// ParseRecord decodes raw into a Record, keeping numbers as json.Number.
func ParseRecord(raw []byte) (Record, error) {
	return parseObject(raw)
}
