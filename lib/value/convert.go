package value

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrUnsupported = errors.New("unsupported value")

// FromAny converts what encoding/json or yaml.v3 decode into an untyped destination.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, errors.Wrapf(ErrUnsupported, "number %s", t)
		}
		return Number(n), nil
	case string:
		return String(t), nil
	case []any:
		list := make([]Value, 0, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, errors.Wrapf(err, "index %d", i)
			}
			list = append(list, v)
		}
		return Value{kind: KindList, list: list}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, errors.Wrapf(err, "key %q", k)
			}
			m[k] = v
		}
		return Value{kind: KindMap, m: m}, nil
	case map[any]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ks, ok := k.(string)
			if !ok {
				return Value{}, errors.Wrapf(ErrUnsupported, "map key %v", k)
			}
			v, err := FromAny(e)
			if err != nil {
				return Value{}, errors.Wrapf(err, "key %q", ks)
			}
			m[ks] = v
		}
		return Value{kind: KindMap, m: m}, nil
	}
	return Value{}, errors.Wrapf(ErrUnsupported, "%T", x)
}

// Any converts v into plain Go values: nil, bool, float64, string, []any and map[string]any.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		list := make([]any, len(v.list))
		for i, e := range v.list {
			list[i] = e.Any()
		}
		return list
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, e := range v.m {
			m[k] = e.Any()
		}
		return m
	}
	return nil
}

var (
	_ json.Marshaler   = Value{}
	_ json.Unmarshaler = (*Value)(nil)
	_ yaml.Marshaler   = Value{}
	_ yaml.Unmarshaler = (*Value)(nil)
)

func (v Value) MarshalJSON() ([]byte, error) {
	if err := v.checkFinite(); err != nil {
		return nil, err
	}
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var x any
	if err := json.Unmarshal(b, &x); err != nil {
		return err
	}

	parsed, err := FromAny(x)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	if err := v.checkFinite(); err != nil {
		return nil, err
	}
	return v.Any(), nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var x any
	if err := node.Decode(&x); err != nil {
		return err
	}

	parsed, err := FromAny(x)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// checkFinite rejects NaN and infinities, which JSON can't carry.
func (v Value) checkFinite() error {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return errors.Wrapf(ErrUnsupported, "number %v", v.n)
		}
	case KindList:
		for _, e := range v.list {
			if err := e.checkFinite(); err != nil {
				return err
			}
		}
	case KindMap:
		for _, e := range v.m {
			if err := e.checkFinite(); err != nil {
				return err
			}
		}
	}
	return nil
}
