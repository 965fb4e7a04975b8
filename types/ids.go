package types

import "strconv"

type EntityID uint64

type ComponentID uint64

// DefID is the store local id of a component definition. It is the unit stored in entity bitfields.
type DefID uint64

type StoreID uint64

func (id EntityID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func (id ComponentID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

func (id DefID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
