package data

import (
	"sync"
	"time"

	"github.com/mirrorwish/hyperbit/common"
	"github.com/mirrorwish/hyperbit/proto"
	"github.com/mirrorwish/hyperbit/util"
)

// A collection of objects, by extension everything this node can announce.
// Hashes are kept in arrival order, which is the order they are announced
// in.
type Collection struct {
	lock    sync.RWMutex
	objects map[common.Hash]*proto.Object
	order   []common.Hash
	now     func() time.Time

	added util.Observers[*proto.Object]
}

// Create a new collection, set all it's members to the correct default values.
func NewCollection() *Collection {
	return &Collection{
		objects: make(map[common.Hash]*proto.Object),
		order:   make([]common.Hash, 0),
		now:     time.Now,
	}
}

func (c *Collection) SetClock(now func() time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.now = now
}

// Adds an object, returning false if it was already held or has expired.
// Subscribers hear about new objects only.
func (c *Collection) Add(o *proto.Object) bool {
	hash := o.Hash()

	c.lock.Lock()

	if _, ok := c.objects[hash]; ok || o.Expired(c.now()) {
		c.lock.Unlock()
		return false
	}

	c.objects[hash] = o
	c.order = append(c.order, hash)
	c.lock.Unlock()

	c.added.Notify(o)

	return true
}

func (c *Collection) AddObject(o *proto.Object) {
	c.Add(o)
}

func (c *Collection) Object(hash common.Hash) *proto.Object {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.objects[hash]
}

func (c *Collection) Has(hash common.Hash) bool {
	return c.Object(hash) != nil
}

// Hashes of every unexpired object, oldest first.
func (c *Collection) HashesForSend() []common.Hash {
	c.lock.RLock()
	defer c.lock.RUnlock()

	now := c.now()
	ret := make([]common.Hash, 0, len(c.order))

	for _, h := range c.order {
		if !c.objects[h].Expired(now) {
			ret = append(ret, h)
		}
	}

	return ret
}

func (c *Collection) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return len(c.order)
}

// Drops expired objects and returns their hashes.
func (c *Collection) Prune() []common.Hash {
	c.lock.Lock()
	defer c.lock.Unlock()

	now := c.now()
	removed := make([]common.Hash, 0)
	kept := c.order[:0]

	for _, h := range c.order {
		if c.objects[h].Expired(now) {
			delete(c.objects, h)
			removed = append(removed, h)
			continue
		}

		kept = append(kept, h)
	}

	c.order = kept

	return removed
}

// fn is called with every new object, after it has been added.
func (c *Collection) Subscribe(fn func(*proto.Object)) *util.Subscription {
	return c.added.Subscribe(fn)
}
