package node

import (
	"time"
)

// FlagSet is a set of flags that can be encoded in JSON so that the flags of a
// command are transmitted to the daemon. Numbers are decoded as float64.
//
// - implements cli.Flags
type FlagSet map[string]interface{}

// String implements cli.Flags. It returns the string of the flag, or an empty
// string.
func (fset FlagSet) String(name string) string {
	v, ok := fset[name].(string)
	if !ok {
		return ""
	}

	return v
}

// StringSlice implements cli.Flags. It returns the strings of the flag, or
// nil.
func (fset FlagSet) StringSlice(name string) []string {
	switch v := fset[name].(type) {
	case []string:
		return v
	case []interface{}:
		values := make([]string, 0, len(v))
		for _, elem := range v {
			str, ok := elem.(string)
			if ok {
				values = append(values, str)
			}
		}

		return values
	default:
		return nil
	}
}

// Duration implements cli.Flags. It returns the duration of the flag, or zero.
func (fset FlagSet) Duration(name string) time.Duration {
	switch v := fset[name].(type) {
	case time.Duration:
		return v
	case float64:
		return time.Duration(v)
	default:
		return 0
	}
}

// Path implements cli.Flags. It returns the path of the flag, or an empty
// string.
func (fset FlagSet) Path(name string) string {
	return fset.String(name)
}

// Int implements cli.Flags. It returns the integer of the flag, or zero when
// the flag is not set or is not an integer.
func (fset FlagSet) Int(name string) int {
	switch v := fset[name].(type) {
	case int:
		return v
	case float64:
		if v != float64(int(v)) {
			return 0
		}

		return int(v)
	default:
		return 0
	}
}

// Bool implements cli.Flags. It returns the boolean of the flag, or false.
func (fset FlagSet) Bool(name string) bool {
	v, ok := fset[name].(bool)

	return ok && v
}
