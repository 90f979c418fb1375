package cache

import (
	"strconv"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
)

// Key identifies either a whole collection of one kind or a single item of that kind.
// Keys are comparable; two keys are equal iff kind, id and shape are equal.
type Key struct {
	kind model.Kind
	id   uint64
	item bool
}

// CollectionKey returns the key of the whole collection of kind.
func CollectionKey(kind model.Kind) Key {
	return Key{kind: kind}
}

// ItemKey returns the key of the single record kind/id.
func ItemKey(kind model.Kind, id uint64) Key {
	return Key{kind: kind, id: id, item: true}
}

// Kind returns the resource kind of the key.
func (k Key) Kind() model.Kind {
	return k.kind
}

// ID returns the item id; it is zero for collection keys.
func (k Key) ID() uint64 {
	return k.id
}

// IsItem reports whether the key addresses a single record.
func (k Key) IsItem() bool {
	return k.item
}

// Collection returns the collection key owning k.
func (k Key) Collection() Key {
	return CollectionKey(k.kind)
}

func (k Key) String() string {
	if !k.item {
		return k.kind.String()
	}
	return k.kind.String() + "/" + strconv.FormatUint(k.id, 10)
}
