package netdb

import (
	"fmt"
	"net"
	"strconv"
)

type Status int

const (
	StatusIdle      Status = 0
	StatusPending   Status = 1
	StatusConnected Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusConnected:
		return "connected"
	}

	return fmt.Sprintf("status(%d)", int(s))
}

// A known peer. Status moves idle -> pending -> connected -> idle, tries
// counts attempts since the last successful connection.
type Entry struct {
	Address   Address `json:"address"`
	Port      uint16  `json:"port"`
	Services  uint64  `json:"services"`
	Timestamp int64   `json:"timestamp"`
	Status    Status  `json:"status"`
	Tries     int     `json:"tries"`
}

func (e *Entry) HostPort() string {
	return net.JoinHostPort(e.Address.String(), strconv.Itoa(int(e.Port)))
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s (%s, %d tries)", e.HostPort(), e.Status, e.Tries)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var ret Entry
	var host []byte
	var services int64

	err := row.Scan(&ret.Timestamp, &services, &host, &ret.Port, &ret.Status, &ret.Tries)

	if err != nil {
		return nil, err
	}

	if len(host) != AddressBinarySize {
		return nil, fmt.Errorf("stored host has %d bytes", len(host))
	}

	copy(ret.Address[:], host)
	ret.Services = uint64(services)

	return &ret, nil
}

type EventOp int

const (
	EventAdded EventOp = iota
	EventSeen
	EventStatus
	EventPort
)

// Sent to observers after every change to the table.
type Event struct {
	Op    EventOp
	Entry Entry
}
