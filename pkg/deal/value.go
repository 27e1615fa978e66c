package deal

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindAbsent Kind = iota
	KindString
	KindNumber
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// ListSeparator joins list elements when a list is flattened into a single cell.
const ListSeparator = ", "

// Value is a single field value of a deal. The zero Value is absent.
type Value struct {
	kind  Kind
	text  string
	items []string
}

func Absent() Value {
	return Value{}
}

func StringValue(s string) Value {
	return Value{kind: KindString, text: s}
}

// NumberValue keeps the literal as received so that it is written back unchanged.
func NumberValue(literal string) Value {
	return Value{kind: KindNumber, text: literal}
}

func ListValue(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{kind: KindList, items: items}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsAbsent() bool {
	return v.kind == KindAbsent
}

// Items returns the elements of a list value, or nil for any other kind.
func (v Value) Items() []string {
	if v.kind != KindList {
		return nil
	}
	return v.items
}

// String renders the value as text. Absent values render as the empty string,
// lists are joined with ListSeparator.
func (v Value) String() string {
	switch v.kind {
	case KindString, KindNumber:
		return v.text
	case KindList:
		return strings.Join(v.items, ListSeparator)
	default:
		return ""
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return errors.Wrap(err, "failed to decode deal value")
	}

	switch val := raw.(type) {
	case nil:
		*v = Absent()
	case string:
		*v = StringValue(val)
	case json.Number:
		*v = NumberValue(val.String())
	case bool:
		*v = StringValue(strconv.FormatBool(val))
	case []interface{}:
		*v = ListValue(lo.Map(val, func(item interface{}, _ int) string {
			return stringifyElement(item)
		})...)
	default:
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return errors.Wrap(err, "failed to compact nested deal value")
		}
		*v = StringValue(compact.String())
	}

	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.text)
	case KindNumber:
		return []byte(v.text), nil
	case KindList:
		return json.Marshal(v.items)
	default:
		return []byte("null"), nil
	}
}

func stringifyElement(item interface{}) string {
	switch val := item.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		out, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(out)
	}
}
