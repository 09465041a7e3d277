package data

import (
	"bytes"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	msgpack "gopkg.in/vmihailenco/msgpack.v2"

	"github.com/mirrorwish/hyperbit/common"
	"github.com/mirrorwish/hyperbit/proto"
)

var objectPrefix = []byte("obj-")

type record struct {
	Data     []byte `msgpack:"data"`
	Received int64  `msgpack:"received"`
}

// A Collection that survives restarts. Objects are written to leveldb as
// they arrive and loaded back, in arrival order, on open.
type Database struct {
	*Collection

	path string
	conn *leveldb.DB

	lock         sync.Mutex
	lastReceived int64
}

func NewDatabase(path string) *Database {
	return &Database{Collection: NewCollection(), path: path}
}

func (db *Database) Connect() error {
	var err error

	db.conn, err = leveldb.OpenFile(db.path, nil)

	if err != nil {
		return err
	}

	return db.load()
}

func objectKey(hash common.Hash) []byte {
	return append(append([]byte{}, objectPrefix...), hash[:]...)
}

func (db *Database) load() error {
	type loaded struct {
		object   *proto.Object
		received int64
	}

	objects := make([]loaded, 0)
	iter := db.conn.NewIterator(util.BytesPrefix(objectPrefix), nil)

	for iter.Next() {
		var r record

		if err := msgpack.Unmarshal(iter.Value(), &r); err != nil {
			log.WithField("key", iter.Key()).Error("Corrupt object record: ", err.Error())
			continue
		}

		o := &proto.Object{}
		if err := o.Decode(bytes.NewReader(r.Data)); err != nil {
			log.WithField("key", iter.Key()).Error("Corrupt object: ", err.Error())
			continue
		}

		objects = append(objects, loaded{o, r.Received})

		if r.Received > db.lastReceived {
			db.lastReceived = r.Received
		}
	}
	iter.Release()

	if err := iter.Error(); err != nil {
		return err
	}

	sort.SliceStable(objects, func(i, j int) bool {
		return objects[i].received < objects[j].received
	})

	for _, o := range objects {
		db.Collection.Add(o.object)
	}

	log.WithField("objects", db.Collection.Len()).Info("Loaded object database")

	return nil
}

// Stores the object if it is new. Write failures are logged, the object
// stays available in memory either way.
func (db *Database) AddObject(o *proto.Object) {
	db.Add(o)
}

func (db *Database) Add(o *proto.Object) bool {
	if !db.Collection.Add(o) {
		return false
	}

	if db.conn == nil {
		return true
	}

	value, err := msgpack.Marshal(&record{Data: o.Bytes(), Received: db.received()})

	if err != nil {
		log.Error(err.Error())
		return true
	}

	if err := db.conn.Put(objectKey(o.Hash()), value, nil); err != nil {
		log.WithField("object", o.Hash().String()).Error(err.Error())
	}

	return true
}

// Arrival stamps, strictly increasing so reloading keeps the order.
func (db *Database) received() int64 {
	db.lock.Lock()
	defer db.lock.Unlock()

	now := time.Now().UnixNano()
	if now <= db.lastReceived {
		now = db.lastReceived + 1
	}
	db.lastReceived = now

	return now
}

// Removes expired objects from memory and disk.
func (db *Database) Prune() ([]common.Hash, error) {
	removed := db.Collection.Prune()

	if db.conn == nil || len(removed) == 0 {
		return removed, nil
	}

	batch := new(leveldb.Batch)
	for _, h := range removed {
		batch.Delete(objectKey(h))
	}

	return removed, db.conn.Write(batch, nil)
}

func (db *Database) Close() error {
	if db.conn == nil {
		return nil
	}

	return db.conn.Close()
}
