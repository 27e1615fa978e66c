package job

import (
	"encoding/json"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// TriggerEvent is the optional payload a trigger can pass to a run.
type TriggerEvent struct {
	// DryRun runs every stage except the load.
	DryRun bool `mapstructure:"dry_run"`
	// Output is a file the CSV is written to on dry runs.
	Output string            `mapstructure:"output"`
	Labels map[string]string `mapstructure:"labels"`
}

// DecodeEvent turns an opaque trigger payload into a TriggerEvent. Accepted
// inputs are nil, a TriggerEvent, a decoded JSON object, or raw JSON bytes.
// Empty payloads yield the zero event.
func DecodeEvent(event interface{}) (TriggerEvent, error) {
	var out TriggerEvent

	var input interface{}
	switch ev := event.(type) {
	case nil:
		return out, nil
	case TriggerEvent:
		return ev, nil
	case *TriggerEvent:
		if ev == nil {
			return out, nil
		}
		return *ev, nil
	case json.RawMessage:
		return decodeRaw(ev)
	case []byte:
		return decodeRaw(ev)
	case string:
		return decodeRaw([]byte(ev))
	default:
		input = ev
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return out, errors.Wrap(err, "failed to create event decoder")
	}

	if err := decoder.Decode(input); err != nil {
		return TriggerEvent{}, errors.Wrap(err, "failed to decode trigger event")
	}

	return out, nil
}

func decodeRaw(raw []byte) (TriggerEvent, error) {
	if len(raw) == 0 {
		return TriggerEvent{}, nil
	}

	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return TriggerEvent{}, errors.Wrap(err, "trigger event is not valid json")
	}
	if payload == nil {
		return TriggerEvent{}, nil
	}

	return DecodeEvent(payload)
}
