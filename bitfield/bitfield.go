// Package bitfield holds the set of component definition local ids attached to an entity.
package bitfield

import (
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/rotisserie/eris"
)

const separator = ","

// Bitfield is a set of def local ids. The zero value is not usable; use New.
type Bitfield struct {
	set *bitset.BitSet
}

func New(ids ...uint) *Bitfield {
	b := &Bitfield{set: bitset.New(0)}
	for _, id := range ids {
		b.set.Set(id)
	}
	return b
}

// Parse is the inverse of String.
func Parse(s string) (*Bitfield, error) {
	b := New()
	if s == "" {
		return b, nil
	}
	for _, part := range strings.Split(s, separator) {
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid bitfield member %q", part)
		}
		b.set.Set(uint(id))
	}
	return b, nil
}

func (b *Bitfield) Set(id uint) *Bitfield {
	b.set.Set(id)
	return b
}

func (b *Bitfield) Clear(id uint) *Bitfield {
	b.set.Clear(id)
	return b
}

func (b *Bitfield) Has(id uint) bool {
	return b.set.Test(id)
}

// Values returns the members in ascending order.
func (b *Bitfield) Values() []uint {
	out := make([]uint, 0, b.set.Count())
	for i, ok := b.set.NextSet(0); ok; i, ok = b.set.NextSet(i + 1) {
		out = append(out, i)
	}
	return out
}

func (b *Bitfield) Count() int {
	return int(b.set.Count())
}

func (b *Bitfield) IsEmpty() bool {
	return b.set.None()
}

// Equal compares membership only. bitset.Equal also compares capacity, which differs between otherwise
// identical sets built in a different order.
func (b *Bitfield) Equal(other *Bitfield) bool {
	if other == nil {
		return b.IsEmpty()
	}
	return b.set.SymmetricDifferenceCardinality(other.set) == 0
}

func (b *Bitfield) Clone() *Bitfield {
	return &Bitfield{set: b.set.Clone()}
}

// Intersects reports whether any id in ids is a member.
func (b *Bitfield) Intersects(ids ...uint) bool {
	for _, id := range ids {
		if b.set.Test(id) {
			return true
		}
	}
	return false
}

// ContainsAll reports whether other is a subset of b.
func (b *Bitfield) ContainsAll(other *Bitfield) bool {
	return other.set.DifferenceCardinality(b.set) == 0
}

// Overlaps reports whether b and other share at least one member.
func (b *Bitfield) Overlaps(other *Bitfield) bool {
	return b.set.IntersectionCardinality(other.set) > 0
}

func (b *Bitfield) Union(other *Bitfield) *Bitfield {
	return &Bitfield{set: b.set.Union(other.set)}
}

// String renders members as ascending comma separated decimals. The empty set renders as "".
func (b *Bitfield) String() string {
	values := b.Values()
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, separator)
}
