package codec_test

import (
	"testing"

	"github.com/goccy/go-json"

	"pkg.world.dev/world-engine/entitystore/assert"
	"pkg.world.dev/world-engine/entitystore/codec"
)

type position struct {
	X, Y int
}

func TestEncodeDecode(t *testing.T) {
	bz, err := codec.Encode(position{X: 3, Y: -4})
	assert.NilError(t, err)
	got, err := codec.Decode[position](bz)
	assert.NilError(t, err)
	assert.Equal(t, got, position{X: 3, Y: -4})
}

func TestDecodeFailsOnGarbage(t *testing.T) {
	_, err := codec.Decode[position]([]byte("{not json"))
	assert.Check(t, err != nil)
}

func TestDecodePayloadKeepsLargeIntegers(t *testing.T) {
	payload, err := codec.DecodePayload([]byte(`{"target":9007199254740993}`))
	assert.NilError(t, err)
	n, ok := payload["target"].(json.Number)
	assert.True(t, ok)
	assert.Equal(t, n.String(), "9007199254740993")
}

func TestCanonicalSortsKeys(t *testing.T) {
	a, err := codec.Canonical([]byte(`{"b":1,"a":{"d":2,"c":3}}`))
	assert.NilError(t, err)
	b, err := codec.Canonical([]byte(`{ "a": {"c":3, "d":2}, "b": 1 }`))
	assert.NilError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, string(a), `{"a":{"c":3,"d":2},"b":1}`)
}
