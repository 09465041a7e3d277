package netdb

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/mirrorwish/hyperbit/util"
)

var ErrUnknownPeer = errors.New("unknown peer")

// Persistent table of every peer we know of. Each operation is atomic, all
// of them are serialised on one lock and one connection.
type NetDB struct {
	conn *sql.DB
	lock sync.Mutex
	now  func() time.Time

	observers util.Observers[Event]

	stmtInsertPeer      *sql.Stmt
	stmtMergeTimestamp  *sql.Stmt
	stmtQueryPeer       *sql.Stmt
	stmtBestCandidate   *sql.Stmt
	stmtSetPending      *sql.Stmt
	stmtSetConnected    *sql.Stmt
	stmtClaimConnected  *sql.Stmt
	stmtSetDisconnected *sql.Stmt
	stmtSetPort         *sql.Stmt
	stmtCountStatus     *sql.Stmt
	stmtCountAll        *sql.Stmt
	stmtRecentPeers     *sql.Stmt
}

func NewNetDB(path string) (*NetDB, error) {
	var err error

	ret := &NetDB{now: time.Now}

	ret.conn, err = sql.Open("sqlite3", path)

	if err != nil {
		return nil, err
	}

	// sqlite only has one writer anyway, and ":memory:" databases are per
	// connection.
	ret.conn.SetMaxOpenConns(1)

	// don't bother preparing these, they are only used at startup
	for _, q := range []string{sqlCreatePeersTable, sqlIndexStatus, sqlResetStatus} {
		_, err = ret.conn.Exec(q)

		if err != nil {
			ret.conn.Close()
			return nil, err
		}
	}

	// prepare all the SQL we will be needing
	stmts := []struct {
		stmt **sql.Stmt
		sql  string
	}{
		{&ret.stmtInsertPeer, sqlInsertPeer},
		{&ret.stmtMergeTimestamp, sqlMergeTimestamp},
		{&ret.stmtQueryPeer, sqlQueryPeer},
		{&ret.stmtBestCandidate, sqlBestCandidate},
		{&ret.stmtSetPending, sqlSetPending},
		{&ret.stmtSetConnected, sqlSetConnected},
		{&ret.stmtClaimConnected, sqlClaimConnected},
		{&ret.stmtSetDisconnected, sqlSetDisconnected},
		{&ret.stmtSetPort, sqlSetPort},
		{&ret.stmtCountStatus, sqlCountStatus},
		{&ret.stmtCountAll, sqlCountAll},
		{&ret.stmtRecentPeers, sqlRecentPeers},
	}

	for _, s := range stmts {
		*s.stmt, err = ret.conn.Prepare(s.sql)

		if err != nil {
			ret.conn.Close()
			return nil, fmt.Errorf("preparing %q: %w", s.sql, err)
		}
	}

	return ret, nil
}

// Replaces the clock used to stamp connected peers.
func (ndb *NetDB) SetClock(now func() time.Time) {
	ndb.lock.Lock()
	defer ndb.lock.Unlock()

	ndb.now = now
}

func (ndb *NetDB) Close() error {
	return ndb.conn.Close()
}

// Registers fn to be called after every change. fn runs on the goroutine
// that made the change, after the lock is released, and must not call the
// mutating methods of ndb.
func (ndb *NetDB) Subscribe(fn func(Event)) *util.Subscription {
	return ndb.observers.Subscribe(fn)
}

func (ndb *NetDB) notify(op EventOp, e *Entry) {
	if e == nil {
		return
	}

	ndb.observers.Notify(Event{Op: op, Entry: *e})
}

// Inserts a peer, or merges the timestamp of a known one. Nothing else about
// a known peer changes. With rejectPrivate set, non public addresses are
// dropped and nil is returned without an error.
func (ndb *NetDB) Upsert(timestamp int64, services uint64, ip net.IP, port uint16, rejectPrivate bool) (*Entry, error) {
	addr, err := AddressFromIP(ip)

	if err != nil {
		return nil, err
	}

	if rejectPrivate && addr.IsPrivate() {
		log.WithField("address", addr.String()).Debug("Ignoring private address")
		return nil, nil
	}

	op := EventSeen

	entry, err := func() (*Entry, error) {
		ndb.lock.Lock()
		defer ndb.lock.Unlock()

		// first we attempt to update the entry. If this succeeds, don't
		// bother with an insert :)
		res, err := ndb.stmtMergeTimestamp.Exec(timestamp, addr.Bytes())

		if err != nil {
			return nil, err
		}

		affected, err := res.RowsAffected()

		if err != nil {
			return nil, err
		}

		if affected == 0 {
			op = EventAdded
			_, err = ndb.stmtInsertPeer.Exec(timestamp, int64(services), addr.Bytes(), port)

			if err != nil {
				return nil, err
			}
		}

		return ndb.query(addr)
	}()

	if err != nil {
		return nil, err
	}

	if op == EventAdded {
		log.WithField("peer", entry.HostPort()).Debug("New peer")
	}

	ndb.notify(op, entry)

	return entry, nil
}

// Returns the entry for addr, or ErrUnknownPeer.
func (ndb *NetDB) Query(addr Address) (*Entry, error) {
	ndb.lock.Lock()
	defer ndb.lock.Unlock()

	return ndb.query(addr)
}

func (ndb *NetDB) query(addr Address) (*Entry, error) {
	entry, err := scanEntry(ndb.stmtQueryPeer.QueryRow(addr.Bytes()))

	if err == sql.ErrNoRows {
		return nil, ErrUnknownPeer
	}

	return entry, err
}

// The idle peer with the fewest tries, most recently seen first. nil if
// there are no idle peers.
func (ndb *NetDB) BestCandidate() (*Entry, error) {
	ndb.lock.Lock()
	defer ndb.lock.Unlock()

	entry, err := scanEntry(ndb.stmtBestCandidate.QueryRow())

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return entry, err
}

func (ndb *NetDB) update(op EventOp, addr Address, stmt *sql.Stmt, args ...interface{}) error {
	entry, err := func() (*Entry, error) {
		ndb.lock.Lock()
		defer ndb.lock.Unlock()

		res, err := stmt.Exec(append(args, addr.Bytes())...)

		if err != nil {
			return nil, err
		}

		affected, err := res.RowsAffected()

		if err != nil {
			return nil, err
		}

		if affected == 0 {
			return nil, ErrUnknownPeer
		}

		return ndb.query(addr)
	}()

	if err != nil {
		return fmt.Errorf("%s: %w", addr.String(), err)
	}

	ndb.notify(op, entry)

	return nil
}

// A connection attempt is starting, counts as a try.
func (ndb *NetDB) MarkPending(addr Address) error {
	return ndb.update(EventStatus, addr, ndb.stmtSetPending)
}

// Resets tries and marks the peer as seen now.
func (ndb *NetDB) MarkConnected(addr Address) error {
	ndb.lock.Lock()
	now := ndb.now().Unix()
	ndb.lock.Unlock()

	return ndb.update(EventStatus, addr, ndb.stmtSetConnected, now)
}

// Marks an idle peer connected, like MarkConnected. A pending or connected
// peer is left alone and false is returned.
func (ndb *NetDB) ClaimConnected(addr Address) (bool, error) {
	entry, err := func() (*Entry, error) {
		ndb.lock.Lock()
		defer ndb.lock.Unlock()

		res, err := ndb.stmtClaimConnected.Exec(ndb.now().Unix(), addr.Bytes())

		if err != nil {
			return nil, err
		}

		affected, err := res.RowsAffected()

		if err != nil || affected == 0 {
			return nil, err
		}

		return ndb.query(addr)
	}()

	if err != nil {
		return false, fmt.Errorf("%s: %w", addr.String(), err)
	}

	if entry == nil {
		return false, nil
	}

	ndb.notify(EventStatus, entry)

	return true, nil
}

func (ndb *NetDB) MarkDisconnected(addr Address) error {
	return ndb.update(EventStatus, addr, ndb.stmtSetDisconnected)
}

// Records the port a peer told us it listens on.
func (ndb *NetDB) SetPort(addr Address, port uint16) error {
	return ndb.update(EventPort, addr, ndb.stmtSetPort, port)
}

func (ndb *NetDB) CountByStatus(status Status) (int, error) {
	ndb.lock.Lock()
	defer ndb.lock.Unlock()

	var count int
	err := ndb.stmtCountStatus.QueryRow(int(status)).Scan(&count)

	return count, err
}

// Get the total number of peers we have stored
func (ndb *NetDB) CountAll() (int, error) {
	ndb.lock.Lock()
	defer ndb.lock.Unlock()

	var count int
	err := ndb.stmtCountAll.QueryRow().Scan(&count)

	return count, err
}

// The limit most recently seen peers. A negative limit returns all of them.
func (ndb *NetDB) Recent(limit int) ([]Entry, error) {
	ndb.lock.Lock()
	defer ndb.lock.Unlock()

	rows, err := ndb.stmtRecentPeers.Query(limit)

	if err != nil {
		return nil, err
	}

	defer rows.Close()

	ret := make([]Entry, 0)

	for rows.Next() {
		entry, err := scanEntry(rows)

		if err != nil {
			return nil, err
		}

		ret = append(ret, *entry)
	}

	return ret, rows.Err()
}

func (ndb *NetDB) Entries() ([]Entry, error) {
	return ndb.Recent(-1)
}
