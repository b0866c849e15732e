package codec

import (
	"fmt"
	"strconv"
)

// Parameters is the family-specific parameter map carried by an offered
// encoder configuration. Values are numeric or string; string values in a
// numeric slot must parse as decimal integers. The keys are the camelCase
// names used on the wire (profile, level, tier, bitDepth, ...).
type Parameters map[string]any

// intField extracts a numeric field from the map, coercing the value types
// CBOR decoding can produce. The second return reports whether the key was
// present at all.
func (p Parameters) intField(key string) (int, bool, error) {
	raw, ok := p[key]
	if !ok {
		return 0, false, nil
	}

	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int8:
		return int(v), true, nil
	case int16:
		return int(v), true, nil
	case int32:
		return int(v), true, nil
	case int64:
		return int(v), true, nil
	case uint:
		return int(v), true, nil
	case uint8:
		return int(v), true, nil
	case uint16:
		return int(v), true, nil
	case uint32:
		return int(v), true, nil
	case uint64:
		return int(v), true, nil
	case float64:
		n := int(v)
		if float64(n) != v {
			return 0, false, fmt.Errorf("parameter %q: non-integer value %v", key, v)
		}
		return n, true, nil
	case float32:
		n := int(v)
		if float32(n) != v {
			return 0, false, fmt.Errorf("parameter %q: non-integer value %v", key, v)
		}
		return n, true, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("parameter %q: non-numeric value %q", key, v)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("parameter %q: unsupported value type %T", key, raw)
	}
}

// requireInt is intField for fields the family cannot default.
func (p Parameters) requireInt(key string) (int, error) {
	v, ok, err := p.intField(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("parameter %q: missing", key)
	}
	return v, nil
}

// optionalInt extracts a field as a pointer, nil when unset.
func (p Parameters) optionalInt(key string) (*int, error) {
	v, ok, err := p.intField(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// tierField extracts a single-letter tier field ('M'/'H' for AV1,
// 'L'/'H' for HEVC).
func (p Parameters) tierField(key string, allowed string) (byte, bool, error) {
	raw, ok := p[key]
	if !ok {
		return 0, false, nil
	}
	s, isString := raw.(string)
	if !isString || len(s) != 1 {
		return 0, false, fmt.Errorf("parameter %q: expected a single tier letter, got %v", key, raw)
	}
	for i := 0; i < len(allowed); i++ {
		if s[0] == allowed[i] {
			return s[0], true, nil
		}
	}
	return 0, false, fmt.Errorf("parameter %q: tier %q not one of %q", key, s, allowed)
}

// checkRange rejects values outside the documented range for a field.
// Out-of-range input is a configuration error, not something to clamp.
func checkRange(family, field string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s: %s %d out of range %d..%d", family, field, value, min, max)
	}
	return nil
}

// checkBitDepth rejects bit depths outside the 8/10/12 set shared by the
// AV1 and VP9 registrations.
func checkBitDepth(family string, value int) error {
	switch value {
	case 8, 10, 12:
		return nil
	default:
		return fmt.Errorf("%s: bitDepth %d not one of 8, 10, 12", family, value)
	}
}
