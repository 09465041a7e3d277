package proto

import "github.com/mirrorwish/hyperbit/common"

// The object store connections announce from and fetch into. Validation and
// deduplication of objects are its job.
type ObjectStore interface {
	// Hashes to announce to a freshly connected peer, in order.
	HashesForSend() []common.Hash
	// nil when the object is not held.
	Object(common.Hash) *Object
	AddObject(*Object)
}
