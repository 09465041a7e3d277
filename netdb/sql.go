package netdb

/*
	This file stores all the SQL queries needed for the NetDB.
	It will also be used to prepare all SQL statements :)
*/

const (
	/*
		timestamp - when the peer was last seen, only ever moves forwards
		services  - services bitmask the peer advertised
		host      - 16 byte IPv6 address, IPv4 is mapped into ::ffff:0:0/96
		port      - the port the peer listens on
		status    - 0 idle, 1 pending, 2 connected
		tries     - connection attempts since the last success
	*/
	sqlCreatePeersTable = `
		CREATE TABLE IF NOT EXISTS
			peers(
				timestamp INTEGER NOT NULL,
				services INTEGER NOT NULL,
				host BLOB(16) UNIQUE NOT NULL,
				port INTEGER NOT NULL,
				status INTEGER NOT NULL DEFAULT 0,
				tries INTEGER NOT NULL DEFAULT 0
			)
	`

	// Candidate selection filters on status and sorts on tries.
	sqlIndexStatus = `
		CREATE INDEX IF NOT EXISTS
			statusIndex ON peers(status, tries)
	`

	// Nothing survives a restart, so nothing can be pending or connected.
	sqlResetStatus = `UPDATE peers SET status = 0`

	sqlInsertPeer = `
		INSERT INTO peers (timestamp, services, host, port, status, tries)
		VALUES(?, ?, ?, ?, 0, 0)
	`

	sqlMergeTimestamp = `
		UPDATE peers SET timestamp = MAX(timestamp, ?) WHERE host = ?
	`

	sqlQueryPeer = `
		SELECT timestamp, services, host, port, status, tries
		FROM peers WHERE host = ?
	`

	sqlBestCandidate = `
		SELECT timestamp, services, host, port, status, tries
		FROM peers WHERE status = 0
		ORDER BY tries ASC, timestamp DESC
		LIMIT 1
	`

	sqlSetPending = `
		UPDATE peers SET status = 1, tries = tries + 1 WHERE host = ?
	`

	sqlSetConnected = `
		UPDATE peers SET status = 2, tries = 0, timestamp = ? WHERE host = ?
	`

	// Only an idle peer can be claimed, one that is being dialed or is
	// already connected keeps its status.
	sqlClaimConnected = `
		UPDATE peers SET status = 2, tries = 0, timestamp = ?
		WHERE host = ? AND status = 0
	`

	sqlSetDisconnected = `
		UPDATE peers SET status = 0 WHERE host = ?
	`

	sqlSetPort = `
		UPDATE peers SET port = ? WHERE host = ?
	`

	sqlCountStatus = `SELECT COUNT(*) FROM peers WHERE status = ?`

	sqlCountAll = `SELECT COUNT(*) FROM peers`

	sqlRecentPeers = `
		SELECT timestamp, services, host, port, status, tries
		FROM peers ORDER BY timestamp DESC
		LIMIT ?
	`
)
