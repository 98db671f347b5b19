package modulehost

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// toLua converts a generic Go value (as produced by schema normalisation
// or ccbor decode) into a lua.LValue tree.
func toLua(L *lua.LState, v interface{}) (lua.LValue, error) {
	switch val := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(val), nil
	case int:
		return lua.LNumber(val), nil
	case int64:
		return lua.LNumber(val), nil
	case float64:
		return lua.LNumber(val), nil
	case string:
		return lua.LString(val), nil
	case []byte:
		return lua.LString(string(val)), nil
	case []interface{}:
		t := L.NewTable()
		for _, elem := range val {
			lv, err := toLua(L, elem)
			if err != nil {
				return nil, err
			}
			t.Append(lv)
		}
		return t, nil
	case map[string]interface{}:
		t := L.NewTable()
		for k, vv := range val {
			lv, err := toLua(L, vv)
			if err != nil {
				return nil, err
			}
			t.RawSetString(k, lv)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("modulehost: cannot convert %T to a lua value", v)
	}
}

// fromLua converts a lua.LValue back into a generic Go value. Tables with
// only positive-integer keys from 1..Len become []interface{}; everything
// else becomes map[string]interface{}.
func fromLua(lv lua.LValue) interface{} {
	switch val := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return fromLuaTable(val)
	default:
		return nil
	}
}

func fromLuaTable(t *lua.LTable) interface{} {
	n := t.Len()
	isArray := n > 0
	t.ForEach(func(k, _ lua.LValue) {
		num, ok := k.(lua.LNumber)
		if !ok || num < 1 || int(num) > n || lua.LNumber(int(num)) != num {
			isArray = false
		}
	})

	if isArray {
		out := make([]interface{}, n)
		for i := 1; i <= n; i++ {
			out[i-1] = fromLua(t.RawGetInt(i))
		}
		return out
	}

	out := map[string]interface{}{}
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = fromLua(v)
	})
	return out
}

// asMap type-asserts v as a map[string]interface{}, failing descriptively
// otherwise — used when decoding envelope tables returned from Lua.
func asMap(v interface{}, what string) (map[string]interface{}, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("modulehost: expected %s to be a table, got %T", what, v)
	}
	return m, nil
}

func asString(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func asInt(m map[string]interface{}, key string, def int) int {
	v, ok := m[key]
	if !ok {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return int(f)
}
