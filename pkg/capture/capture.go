// Package capture builds the payloads sent when a breakpoint or catchpoint fires.
package capture

import (
	"fmt"
	"reflect"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Hit kinds.
const (
	KindBreakpoint = "breakpoint"
	KindCatchpoint = "catchpoint"
)

const (
	maxStringLength = 1000
	maxElements     = 100
)

// Hit holds the data captured when a breakpoint or catchpoint fires.
type Hit struct {
	ID           string              `json:"id"`
	Kind         string              `json:"kind"`
	BreakpointID int                 `json:"breakpoint_id,omitempty"`
	RemoteID     string              `json:"remote_id,omitempty"`
	FilePath     string              `json:"file_path,omitempty"`
	LineNumber   int                 `json:"line_number,omitempty"`
	Condition    string              `json:"condition,omitempty"`
	Exception    string              `json:"exception,omitempty"`
	Message      string              `json:"message,omitempty"`
	HitCount     int                 `json:"hit_count"`
	Locals       map[string]Variable `json:"locals,omitempty"`
	CapturedAt   string              `json:"captured_at"`
}

// Variable represents a captured variable.
type Variable struct {
	Name          string              `json:"name"`
	Type          string              `json:"type"`
	Value         string              `json:"value"`
	IsNull        bool                `json:"is_null"`
	IsTruncated   bool                `json:"is_truncated"`
	Children      map[string]Variable `json:"children,omitempty"`
	ArrayElements []Variable          `json:"array_elements,omitempty"`
	ArrayLength   *int                `json:"array_length,omitempty"`
}

// NewHit returns a Hit of the given kind stamped with a fresh id and the
// current time.
func NewHit(kind string) *Hit {
	return &Hit{
		ID:         uuid.New().String(),
		Kind:       kind,
		CapturedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Snapshot captures an evaluation context. A map with string keys yields one
// variable per key; any other non-nil value is captured as "context".
func Snapshot(ctx interface{}, maxDepth int) map[string]Variable {
	if ctx == nil {
		return nil
	}

	v := reflect.ValueOf(ctx)
	if v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return map[string]Variable{"context": captureValue("context", ctx, 0, maxDepth)}
	}

	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	locals := make(map[string]Variable, len(keys))
	for i, key := range keys {
		if i >= maxElements {
			break
		}
		name := key.String()
		locals[name] = captureValue(name, v.MapIndex(key).Interface(), 0, maxDepth)
	}
	return locals
}

// CaptureValue captures an arbitrary value.
func CaptureValue(name string, value interface{}, maxDepth int) Variable {
	return captureValue(name, value, 0, maxDepth)
}

func captureValue(name string, value interface{}, depth, maxDepth int) Variable {
	if value == nil {
		return Variable{Name: name, Type: "nil", Value: "nil", IsNull: true}
	}

	v := reflect.ValueOf(value)
	t := v.Type()

	if depth > maxDepth {
		return Variable{
			Name:        name,
			Type:        t.String(),
			Value:       "<max depth exceeded>",
			IsTruncated: true,
		}
	}

	switch v.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return Variable{Name: name, Type: t.String(), Value: fmt.Sprintf("%v", value)}

	case reflect.String:
		s := v.String()
		truncated := len(s) > maxStringLength
		if truncated {
			n := maxStringLength
			for n > 0 && !utf8.RuneStart(s[n]) {
				n--
			}
			s = s[:n]
		}
		return Variable{Name: name, Type: t.String(), Value: s, IsTruncated: truncated}

	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return Variable{Name: name, Type: t.String(), Value: "nil", IsNull: true}
		}
		// Each dereference counts as a level so pointer cycles stop at maxDepth.
		return captureValue(name, v.Elem().Interface(), depth+1, maxDepth)

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return Variable{Name: name, Type: t.String(), Value: "nil", IsNull: true}
		}
		length := v.Len()
		n := length
		if n > maxElements {
			n = maxElements
		}
		elements := make([]Variable, 0, n)
		for i := 0; i < n; i++ {
			elements = append(elements, captureValue(fmt.Sprintf("[%d]", i), v.Index(i).Interface(), depth+1, maxDepth))
		}
		return Variable{
			Name:          name,
			Type:          t.String(),
			Value:         fmt.Sprintf("[%d items]", length),
			ArrayElements: elements,
			ArrayLength:   &length,
			IsTruncated:   length > maxElements,
		}

	case reflect.Map:
		if v.IsNil() {
			return Variable{Name: name, Type: t.String(), Value: "nil", IsNull: true}
		}
		keys := v.MapKeys()
		children := make(map[string]Variable)
		for i, key := range keys {
			if i >= maxElements {
				break
			}
			k := fmt.Sprintf("%v", key.Interface())
			children[k] = captureValue(k, v.MapIndex(key).Interface(), depth+1, maxDepth)
		}
		return Variable{
			Name:        name,
			Type:        t.String(),
			Value:       fmt.Sprintf("map[%d]", len(keys)),
			Children:    children,
			IsTruncated: len(keys) > maxElements,
		}

	case reflect.Struct:
		children := make(map[string]Variable)
		for i := 0; i < t.NumField() && i < maxElements; i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			children[field.Name] = captureValue(field.Name, v.Field(i).Interface(), depth+1, maxDepth)
		}
		return Variable{
			Name:     name,
			Type:     t.String(),
			Value:    fmt.Sprintf("<%s>", t.Name()),
			Children: children,
		}

	default:
		return Variable{Name: name, Type: t.String(), Value: fmt.Sprintf("<%s>", t.Kind())}
	}
}
