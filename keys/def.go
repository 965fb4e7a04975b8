package keys

import (
	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/types"
)

func DefByIDKey(id types.DefID) []byte {
	return MustEncode(DefByID, FormatID(uint64(id)))
}

func DefByHashKey(hash string) ([]byte, error) {
	return Encode(DefByHash, hash)
}

func DefByURIKey(uri string) ([]byte, error) {
	return Encode(DefByURI, uri)
}

// ReusableIDCounterKey stores the next unused value of the named allocator.
func ReusableIDCounterKey(name string) ([]byte, error) {
	return Encode(ReusableID, name, "count")
}

// ReusableIDFreeKey marks id as released by the named allocator.
func ReusableIDFreeKey(name string, id uint64) ([]byte, error) {
	return Encode(ReusableID, name, "free", FormatID(id))
}

// ReusableIDFreeRange covers every released id of the named allocator, smallest first.
func ReusableIDFreeRange(name string) (kv.Range, error) {
	return Range(ReusableID, name, "free")
}
