package qubesadmin

import (
	"strconv"

	"github.com/qubes-tools/qubesadmin/shared/api"
)

// Value is a decoded property value. Exactly one representation is active,
// selected by Kind; Null marks an empty vm/label reference, or the one
// documented property whose empty int state is meaningful.
type Value struct {
	Kind  api.PropertyKind
	Null  bool
	Str   string
	Bool  bool
	Int   int64
	VM    *VM
	Label *Label
}

// StringValue returns a str-kind value.
func StringValue(s string) Value {
	return Value{Kind: api.PropertyKindStr, Str: s}
}

// BoolValue returns a bool-kind value.
func BoolValue(b bool) Value {
	return Value{Kind: api.PropertyKindBool, Bool: b}
}

// IntValue returns an int-kind value.
func IntValue(n int64) Value {
	return Value{Kind: api.PropertyKindInt, Int: n}
}

// VMValue returns a vm-kind value. A nil vm means "no VM".
func VMValue(vm *VM) Value {
	return Value{Kind: api.PropertyKindVM, VM: vm, Null: vm == nil}
}

// LabelValue returns a label-kind value. A nil label means "no label".
func LabelValue(label *Label) Value {
	return Value{Kind: api.PropertyKindLabel, Label: label, Null: label == nil}
}

// String renders the value the way the daemon expects it in a Set call:
// object references by name, null references as the empty string, booleans
// as True/False.
func (v Value) String() string {
	if v.Null {
		return ""
	}

	switch v.Kind {
	case api.PropertyKindBool:
		if v.Bool {
			return "True"
		}

		return "False"
	case api.PropertyKindInt:
		return strconv.FormatInt(v.Int, 10)
	case api.PropertyKindVM:
		if v.VM == nil {
			return ""
		}

		return v.VM.Name()
	case api.PropertyKindLabel:
		if v.Label == nil {
			return ""
		}

		return v.Label.Name()
	default:
		return v.Str
	}
}
