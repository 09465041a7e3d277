package proto

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/mirrorwish/hyperbit/common"
)

// A frame that can't be written in this long means the remote has stopped
// reading.
const WriteTimeout = time.Minute * 2

// Frames packets over a single connection. Reads must come from one
// goroutine, writes are safe from any.
type Client struct {
	conn net.Conn

	writeLock    sync.Mutex
	writeTimeout time.Duration
	maxSize      uint32
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, writeTimeout: WriteTimeout, maxSize: common.MaxMessageSize}
}

// 0 disables the timeout.
func (c *Client) SetWriteTimeout(d time.Duration) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	c.writeTimeout = d
}

func (c *Client) Conn() net.Conn {
	return c.conn
}

// Close the client connection.
func (c *Client) Close() (err error) {
	if c.conn != nil {
		err = c.conn.Close()
	}
	return
}

// Writes a raw command and payload as a single frame.
func (c *Client) WriteMessage(msg *Message) error {
	if c == nil || c.conn == nil {
		return errors.New("Client nil")
	}

	frame, err := msg.Bytes()

	if err != nil {
		return err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if c.writeTimeout > 0 {
		if err = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	_, err = c.conn.Write(frame)
	return err
}

func (c *Client) WritePayload(p Payload) error {
	msg, err := EncodePayload(p)

	if err != nil {
		return err
	}

	return c.WriteMessage(msg)
}

// Blocks until a frame is read from c.conn.
func (c *Client) ReadMessage() (*Message, error) {
	if c == nil || c.conn == nil {
		return nil, errors.New("Client nil")
	}

	return DecodeFrame(c.conn, c.maxSize)
}
