package schema

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/smartcomputer-ai/agentos/ccbor"
)

// Normalized is the result of normalize_value_by_schema: the canonical
// representation (ready to feed back through this package, or to encode
// with ccbor directly) plus its canonical bytes and hash.
type Normalized struct {
	Repr  interface{}
	Bytes []byte
	Hash  string
}

// NormalizeValueBySchema is total: it never panics, returning an
// *Invalid wrapped error on any validation failure.
func NormalizeValueBySchema(idx *Index, name string, value interface{}) (*Normalized, error) {
	s, ok := idx.Lookup(name)
	if !ok {
		return nil, invalid(name, "no schema registered under this name")
	}
	repr, err := normalize(idx, s, value, name)
	if err != nil {
		return nil, err
	}
	hash, bytes, err := ccbor.HashValue(repr)
	if err != nil {
		return nil, invalid(name, "canonical encoding failed: %v", err)
	}
	return &Normalized{Repr: repr, Bytes: bytes, Hash: hash}, nil
}

func normalize(idx *Index, s *Schema, value interface{}, path string) (interface{}, error) {
	switch s.Kind {
	case KindRef:
		resolved, err := idx.Resolve(s)
		if err != nil {
			return nil, invalid(path, "%v", err)
		}
		return normalize(idx, resolved, value, path)
	case KindPrimitive:
		return normalizePrimitive(s.Primitive, value, path)
	case KindRecord:
		return normalizeRecord(idx, s, value, path)
	case KindVariant:
		return normalizeVariant(idx, s, value, path)
	case KindList:
		return normalizeList(idx, s, value, path)
	case KindSet:
		return normalizeSet(idx, s, value, path)
	case KindMap:
		return normalizeMap(idx, s, value, path)
	default:
		return nil, invalid(path, "unknown schema kind %q", s.Kind)
	}
}

func normalizePrimitive(p Primitive, value interface{}, path string) (interface{}, error) {
	switch p {
	case PrimString:
		v, ok := value.(string)
		if !ok {
			return nil, invalid(path, "expected string, got %T", value)
		}
		return v, nil
	case PrimBool:
		v, ok := value.(bool)
		if !ok {
			return nil, invalid(path, "expected bool, got %T", value)
		}
		return v, nil
	case PrimNull:
		if value != nil {
			return nil, invalid(path, "expected null, got %T", value)
		}
		return nil, nil
	case PrimInt:
		return normalizeInt(value, path)
	case PrimBytes:
		return normalizeBytes(value, path)
	case PrimDecimal:
		return normalizeDecimal(value, path)
	default:
		return nil, invalid(path, "unknown primitive %q", p)
	}
}

func normalizeInt(value interface{}, path string) (interface{}, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return nil, invalid(path, "expected integer, got fractional float %v", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, invalid(path, "expected integer string, got %q", v)
		}
		return n, nil
	default:
		return nil, invalid(path, "expected int, got %T", value)
	}
}

func normalizeBytes(value interface{}, path string) (interface{}, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, invalid(path, "expected base64 bytes, got %q", v)
		}
		return b, nil
	default:
		return nil, invalid(path, "expected bytes, got %T", value)
	}
}

// normalizeDecimal accepts a float, a json number-as-string, or an
// already-numeric string, and produces a canonical fixed-point decimal
// string: no leading zeros (except "0" itself), no trailing fractional
// zeros, no exponent form. Floats are disallowed as a *source* type only in
// the narrow sense that callers should supply decimals as strings to avoid
// binary float rounding; a float64 input here is accepted and reformatted
// on a best-effort basis, the same tolerance JSON-driven configs usually
// give either representation.
func normalizeDecimal(value interface{}, path string) (interface{}, error) {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case float64:
		raw = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return nil, invalid(path, "expected decimal string, got %T", value)
	}

	raw = strings.TrimSpace(raw)
	neg := strings.HasPrefix(raw, "-")
	unsigned := strings.TrimPrefix(raw, "-")
	if unsigned == "" {
		return nil, invalid(path, "empty decimal")
	}

	intPart, fracPart, hasFrac := unsigned, "", false
	if idx := strings.IndexByte(unsigned, '.'); idx >= 0 {
		intPart, fracPart, hasFrac = unsigned[:idx], unsigned[idx+1:], true
	}
	if intPart == "" || !isDigits(intPart) || (hasFrac && (fracPart == "" || !isDigits(fracPart))) {
		return nil, invalid(path, "malformed decimal %q", value)
	}

	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart = strings.TrimRight(fracPart, "0")

	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalizeRecord(idx *Index, s *Schema, value interface{}, path string) (interface{}, error) {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, invalid(path, "expected record object, got %T", value)
	}

	seen := make(map[string]bool, len(s.Fields))
	out := make(map[string]interface{}, len(s.Fields))
	for _, f := range s.Fields {
		seen[f.Name] = true
		v, present := obj[f.Name]
		if !present {
			if f.Optional {
				continue
			}
			return nil, invalid(path+"."+f.Name, "required field missing")
		}
		nv, err := normalize(idx, f.Type, v, path+"."+f.Name)
		if err != nil {
			return nil, err
		}
		out[f.Name] = nv
	}
	for k := range obj {
		if !seen[k] {
			return nil, invalid(path, "unknown field %q", k)
		}
	}
	return out, nil
}

// normalizeVariant accepts either the canonical {"variant":tag,"value":v}
// envelope or the tagged-union shorthand {tag: v} with exactly one key.
func normalizeVariant(idx *Index, s *Schema, value interface{}, path string) (interface{}, error) {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, invalid(path, "expected variant object, got %T", value)
	}

	var tag string
	var payload interface{}
	hasPayload := true

	if tagVal, hasTag := obj["variant"]; hasTag {
		t, ok := tagVal.(string)
		if !ok {
			return nil, invalid(path, "variant tag must be a string")
		}
		tag = t
		payload, hasPayload = obj["value"]
	} else {
		if len(obj) != 1 {
			return nil, invalid(path, "tagged-union shorthand requires exactly one key")
		}
		for k, v := range obj {
			tag, payload = k, v
		}
	}

	for _, c := range s.Cases {
		if c.Tag != tag {
			continue
		}
		if c.Type == nil {
			return map[string]interface{}{"variant": tag}, nil
		}
		if !hasPayload {
			return nil, invalid(path, "case %q requires a value", tag)
		}
		nv, err := normalize(idx, c.Type, payload, path+"."+tag)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"variant": tag, "value": nv}, nil
	}
	return nil, invalid(path, "unknown variant case %q", tag)
}

func normalizeList(idx *Index, s *Schema, value interface{}, path string) (interface{}, error) {
	arr, ok := value.([]interface{})
	if !ok {
		return nil, invalid(path, "expected list, got %T", value)
	}
	out := make([]interface{}, len(arr))
	for i, v := range arr {
		nv, err := normalize(idx, s.Elem, v, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

func normalizeSet(idx *Index, s *Schema, value interface{}, path string) (interface{}, error) {
	arr, ok := value.([]interface{})
	if !ok {
		return nil, invalid(path, "expected set, got %T", value)
	}
	type elem struct {
		repr interface{}
		key  string
	}
	elems := make([]elem, 0, len(arr))
	seen := map[string]bool{}
	for i, v := range arr {
		nv, err := normalize(idx, s.Elem, v, fmt.Sprintf("%s{%d}", path, i))
		if err != nil {
			return nil, err
		}
		_, b, err := ccbor.HashValue(nv)
		if err != nil {
			return nil, invalid(path, "set element encoding failed: %v", err)
		}
		key := string(b)
		if seen[key] {
			continue
		}
		seen[key] = true
		elems = append(elems, elem{repr: nv, key: key})
	}
	sort.Slice(elems, func(i, j int) bool { return elems[i].key < elems[j].key })
	out := make([]interface{}, len(elems))
	for i, e := range elems {
		out[i] = e.repr
	}
	return out, nil
}

func normalizeMap(idx *Index, s *Schema, value interface{}, path string) (interface{}, error) {
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, invalid(path, "expected map, got %T", value)
	}
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		nk, err := normalize(idx, s.MapKey, k, path+"."+k+"(key)")
		if err != nil {
			return nil, err
		}
		keyStr, ok := nk.(string)
		if !ok {
			return nil, invalid(path, "map key normalised to non-string %T; only string-keyed maps are supported", nk)
		}
		nv, err := normalize(idx, s.MapValue, v, path+"."+k)
		if err != nil {
			return nil, err
		}
		out[keyStr] = nv
	}
	return out, nil
}
