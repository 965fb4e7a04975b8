// Package keys maps entity, component and component definition identity onto the flat byte keys of the ordered
// store. A key is a namespace followed by parts, joined with Delimiter. Numeric parts are fixed width decimal so
// that byte order equals numeric order.
package keys

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/entitystore/kv"
	"pkg.world.dev/world-engine/entitystore/types"
)

type Namespace string

const (
	Delimiter    byte = '!'
	LowSentinel  byte = 0x00
	HighSentinel byte = 0xFF

	idWidth = 16
)

const (
	// EntityBitfield maps entity id to the entity's bitfield.
	EntityBitfield Namespace = "_ent_bf"
	// EntityIDBitfield maps entity id and bitfield to the entity id. The query executor scans it.
	EntityIDBitfield Namespace = "_ent_id_bf"
	// EntityComponent maps entity id and component id to the component payload.
	EntityComponent Namespace = "_ent_com"
	// ComponentData maps component id to the component payload.
	ComponentData Namespace = "_com_data"
	// ComponentDef maps def hash and component id to the component payload.
	ComponentDef Namespace = "_com_def"

	DefByID   Namespace = "cdef!id"
	DefByHash Namespace = "cdef!hash"
	DefByURI  Namespace = "cdef!uri"

	ReusableID Namespace = "_ruid"
)

// Store metadata keys.
var (
	MetaUUID    = []byte("_local_uuid")
	MetaStoreID = []byte("_local_id")
)

// Allocator names, one id space each.
const (
	AllocComponentDef = "cdef"
	AllocEntity       = "entity"
	AllocComponent    = "component"
)

// Encode joins ns and parts. It fails with types.ErrMalformedKey when a part contains the delimiter or the high
// sentinel, since either would break range scans.
func Encode(ns Namespace, parts ...string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(string(ns))
	for _, part := range parts {
		if strings.IndexByte(part, Delimiter) >= 0 || strings.IndexByte(part, HighSentinel) >= 0 {
			return nil, eris.Wrapf(types.ErrMalformedKey, "part %q of namespace %s", part, ns)
		}
		buf.WriteByte(Delimiter)
		buf.WriteString(part)
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode for parts that are known to be well formed (ids and bitfields).
func MustEncode(ns Namespace, parts ...string) []byte {
	key, err := Encode(ns, parts...)
	if err != nil {
		panic(err)
	}
	return key
}

// FormatID renders id as a zero padded decimal.
func FormatID(id uint64) string {
	return fmt.Sprintf("%0*d", idWidth, id)
}

func ParseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(types.ErrMalformedKey, "id part %q", s)
	}
	return id, nil
}

// Range bounds every key below ns and parts: from prefix+Delimiter+LowSentinel up to prefix+Delimiter+HighSentinel.
func Range(ns Namespace, parts ...string) (kv.Range, error) {
	prefix, err := Encode(ns, parts...)
	if err != nil {
		return kv.Range{}, err
	}
	start := make([]byte, 0, len(prefix)+2)
	start = append(start, prefix...)
	start = append(start, Delimiter, LowSentinel)
	end := make([]byte, 0, len(prefix)+2)
	end = append(end, prefix...)
	end = append(end, Delimiter, HighSentinel)
	return kv.Range{Start: start, End: end}, nil
}

func MustRange(ns Namespace, parts ...string) kv.Range {
	r, err := Range(ns, parts...)
	if err != nil {
		panic(err)
	}
	return r
}

// All bounds every key in the store.
func All() kv.Range {
	return kv.Range{Start: []byte{LowSentinel}, End: []byte{HighSentinel}}
}

// Split breaks a key into its delimiter separated segments. Namespaces that contain the delimiter span more than
// one segment.
func Split(key []byte) []string {
	return strings.Split(string(key), string(Delimiter))
}

// LastPart returns the segment after the final delimiter.
func LastPart(key []byte) string {
	i := bytes.LastIndexByte(key, Delimiter)
	return string(key[i+1:])
}

// LastID parses the final segment of key as an id.
func LastID(key []byte) (uint64, error) {
	return ParseID(LastPart(key))
}
