package deal

import (
	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is a single deal as returned by the CRM. Field order is kept as it
// appears in the response so that the resulting table has stable columns.
type Record struct {
	fields *orderedmap.OrderedMap[string, Value]
}

func NewRecord() *Record {
	return &Record{fields: orderedmap.New[string, Value]()}
}

func (r *Record) init() {
	if r.fields == nil {
		r.fields = orderedmap.New[string, Value]()
	}
}

func (r *Record) Set(key string, value Value) {
	r.init()
	r.fields.Set(key, value)
}

// Get returns the value stored under key, or an absent value if the key is missing.
func (r *Record) Get(key string) Value {
	if r.fields == nil {
		return Absent()
	}
	v, _ := r.fields.Get(key)
	return v
}

func (r *Record) Has(key string) bool {
	if r.fields == nil {
		return false
	}
	_, ok := r.fields.Get(key)
	return ok
}

// Keys returns the field identifiers in response order.
func (r *Record) Keys() []string {
	if r.fields == nil {
		return nil
	}

	keys := make([]string, 0, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (r *Record) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

func (r *Record) UnmarshalJSON(data []byte) error {
	r.fields = orderedmap.New[string, Value]()
	if err := r.fields.UnmarshalJSON(data); err != nil {
		return errors.Wrap(err, "failed to decode deal record")
	}
	return nil
}

func (r *Record) MarshalJSON() ([]byte, error) {
	r.init()
	return r.fields.MarshalJSON()
}
