package attributes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Kind is the type tag of a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindString
	KindBool
	KindBlob
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBlob:
		return "blob"
	case KindSet:
		return "set"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func parseKind(s string) (Kind, error) {
	for k := KindNone; k <= KindSet; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindNone, fmt.Errorf("unknown value kind: %s", s)
}

// Value is a typed attribute value. Only the field matching Kind is meaningful.
type Value struct {
	Kind Kind
	Int  int64
	Str  string
	Bool bool
	Blob []byte
	// Set holds sorted, unique members.
	Set []string
}

func IntValue(i int64) Value {
	return Value{Kind: KindInt, Int: i}
}

func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

func BlobValue(b []byte) Value {
	return Value{Kind: KindBlob, Blob: bytes.Clone(b)}
}

func SetValue(members ...string) Value {
	return Value{Kind: KindSet, Set: normalizeMembers(members)}
}

func normalizeMembers(members []string) []string {
	out := make([]string, 0, len(members))
	out = append(out, members...)
	sort.Strings(out)
	return slices.Compact(out)
}

// IsZero reports whether the value carries no kind, which marks a removed key in diffs.
func (v Value) IsZero() bool {
	return v.Kind == KindNone
}

func (v Value) Clone() Value {
	c := v
	if v.Blob != nil {
		c.Blob = bytes.Clone(v.Blob)
	}
	if v.Set != nil {
		c.Set = slices.Clone(v.Set)
	}
	return c
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == o.Int
	case KindString:
		return v.Str == o.Str
	case KindBool:
		return v.Bool == o.Bool
	case KindBlob:
		return bytes.Equal(v.Blob, o.Blob)
	case KindSet:
		return slices.Equal(v.Set, o.Set)
	default:
		return true
	}
}

// Interface returns the value as a plain Go value for display collaborators.
func (v Value) Interface() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindBlob:
		return bytes.Clone(v.Blob)
	case KindSet:
		return slices.Clone(v.Set)
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindString:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindBlob:
		return fmt.Sprintf("<%d bytes>", len(v.Blob))
	case KindSet:
		return "{" + strings.Join(v.Set, ",") + "}"
	default:
		return "<none>"
	}
}

type valueJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var raw []byte
	var err error
	switch v.Kind {
	case KindNone:
	case KindSet:
		members := v.Set
		if members == nil {
			members = []string{}
		}
		raw, err = json.Marshal(members)
	default:
		raw, err = json.Marshal(v.Interface())
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: v.Kind.String(), Value: raw})
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var w valueJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	kind, err := parseKind(w.Kind)
	if err != nil {
		return err
	}
	out := Value{Kind: kind}
	switch kind {
	case KindNone:
	case KindInt:
		err = json.Unmarshal(w.Value, &out.Int)
	case KindString:
		err = json.Unmarshal(w.Value, &out.Str)
	case KindBool:
		err = json.Unmarshal(w.Value, &out.Bool)
	case KindBlob:
		err = json.Unmarshal(w.Value, &out.Blob)
		if out.Blob == nil {
			out.Blob = []byte{}
		}
	case KindSet:
		var members []string
		err = json.Unmarshal(w.Value, &members)
		out.Set = normalizeMembers(members)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s value: %w", kind, err)
	}
	*v = out
	return nil
}
