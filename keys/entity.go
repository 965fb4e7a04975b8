package keys

import (
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/entitystore/bitfield"
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/types"
)

// EntityBitfieldKey is the point lookup key for an entity's bitfield.
func EntityBitfieldKey(id types.EntityID) []byte {
	return MustEncode(EntityBitfield, FormatID(uint64(id)))
}

// EntityIDBitfieldKey is the membership index key: the entity id followed by its bitfield string.
func EntityIDBitfieldKey(id types.EntityID, bf *bitfield.Bitfield) []byte {
	return MustEncode(EntityIDBitfield, FormatID(uint64(id)), bf.String())
}

// EntityComponentKey maps an (entity, component) pair to the payload.
func EntityComponentKey(eid types.EntityID, cid types.ComponentID) []byte {
	return MustEncode(EntityComponent, FormatID(uint64(eid)), FormatID(uint64(cid)))
}

func ComponentDataKey(cid types.ComponentID) []byte {
	return MustEncode(ComponentData, FormatID(uint64(cid)))
}

func ComponentDefKey(hash string, cid types.ComponentID) ([]byte, error) {
	return Encode(ComponentDef, hash, FormatID(uint64(cid)))
}

// EntityComponentRange covers every component row of one entity.
func EntityComponentRange(eid types.EntityID) kv.Range {
	return MustRange(EntityComponent, FormatID(uint64(eid)))
}

// ComponentDefRange covers every component stored under one def hash.
func ComponentDefRange(hash string) (kv.Range, error) {
	return Range(ComponentDef, hash)
}

// DecodeEntityIDBitfieldKey splits a membership index key into the entity id and bitfield.
func DecodeEntityIDBitfieldKey(key []byte) (types.EntityID, *bitfield.Bitfield, error) {
	parts := Split(key)
	if len(parts) != 3 || parts[0] != string(EntityIDBitfield) {
		return 0, nil, eris.Wrapf(types.ErrMalformedKey, "not a membership index key: %q", key)
	}
	id, err := ParseID(parts[1])
	if err != nil {
		return 0, nil, err
	}
	bf, err := bitfield.Parse(parts[2])
	if err != nil {
		return 0, nil, eris.Wrap(types.ErrMalformedKey, err.Error())
	}
	return types.EntityID(id), bf, nil
}

// DecodeBitfieldFromIndexKey returns the trailing bitfield of a membership index key.
func DecodeBitfieldFromIndexKey(key []byte) (*bitfield.Bitfield, error) {
	_, bf, err := DecodeEntityIDBitfieldKey(key)
	return bf, err
}
