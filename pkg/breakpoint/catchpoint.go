package breakpoint

import (
	"reflect"
)

// AnyError is the catchpoint name that matches every error.
const AnyError = "error"

// CatchpointHitCount looks err up in catchpoints, a map from error type name to
// hit count. The error chain is walked outermost first and the first link whose
// type name is in the map wins; AnyError matches when nothing more specific
// does. Type names drop the pointer, so *fs.PathError is "fs.PathError".
func CatchpointHitCount(catchpoints map[string]int, err error) (name string, count int, ok bool) {
	if len(catchpoints) == 0 || err == nil {
		return "", 0, false
	}

	found := false
	walkErrors(err, func(e error) bool {
		n := ErrorTypeName(e)
		if c, hit := catchpoints[n]; hit {
			name, count, found = n, c, true
			return false
		}
		return true
	})
	if found {
		return name, count, true
	}

	if c, hit := catchpoints[AnyError]; hit {
		return AnyError, c, true
	}
	return "", 0, false
}

// ErrorTypeName returns the name of the dynamic type of err.
func ErrorTypeName(err error) string {
	t := reflect.TypeOf(err)
	if t == nil {
		return AnyError
	}
	if t.Kind() == reflect.Ptr {
		return t.Elem().String()
	}
	return t.String()
}

// walkErrors visits err and everything it wraps, depth first, until visit
// returns false.
func walkErrors(err error, visit func(error) bool) bool {
	if err == nil {
		return true
	}
	if !visit(err) {
		return false
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return walkErrors(u.Unwrap(), visit)
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if !walkErrors(inner, visit) {
				return false
			}
		}
	}
	return true
}
