package codec

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

func Decode[T any](bz []byte) (T, error) {
	v := new(T)
	err := json.Unmarshal(bz, v)
	if err != nil {
		return *v, eris.Wrap(err, "")
	}
	return *v, nil
}

func Encode(v any) ([]byte, error) {
	bz, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return bz, nil
}

// DecodePayload decodes a component payload into a generic map. Numbers are kept as json.Number so entity ids
// survive the round trip without float rounding.
func DecodePayload(bz []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(bz))
	dec.UseNumber()
	payload := map[string]any{}
	if err := dec.Decode(&payload); err != nil {
		return nil, eris.Wrap(err, "")
	}
	return payload, nil
}

// Canonical re-encodes arbitrary JSON with object keys sorted, so that semantically equal documents produce
// identical bytes.
func Canonical(bz []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(bz))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, eris.Wrap(err, "")
	}
	// encoding of map[string]any sorts keys
	out, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return out, nil
}
