package config

// Options is a loosely-typed option bag for backend-specific knobs that do
// not deserve first-class config fields (e.g. sqlite busy timeout, postgres
// pool sizing). Accessors never fail; they fall back to the given default on
// missing keys or wrong types.
type Options map[string]any

// String returns the string at key, or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool at key, or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the integer at key, or def. JSON numbers decode as float64, so
// both representations are accepted.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
