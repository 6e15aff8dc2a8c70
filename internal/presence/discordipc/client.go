// Package discordipc is a minimal Discord RPC client over the local IPC
// socket, enough to publish a rich-presence activity.
package discordipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var ErrNotConnected = errors.New("discord ipc not connected")

// ErrConnectionLost wraps failures that closed the socket. The client must
// Connect again before the next SetActivity.
var ErrConnectionLost = errors.New("discord ipc connection lost")

// Activity is the rich-presence payload.
type Activity struct {
	State      string      `json:"state,omitempty"`
	Details    string      `json:"details,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
	Buttons    []Button    `json:"buttons,omitempty"`
}

type Timestamps struct {
	Start int64 `json:"start,omitempty"`
}

type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Client talks to a running Discord desktop client.
type Client struct {
	clientID string
	timeout  time.Duration
	// dial is replaceable in tests.
	dial func(ctx context.Context) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
}

func New(clientID string) *Client {
	return &Client{clientID: clientID, timeout: 5 * time.Second, dial: dialIPC}
}

// Connect opens the IPC socket and performs the handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked()
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	hs, _ := json.Marshal(map[string]any{"v": 1, "client_id": c.clientID})
	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	if err := WriteFrame(conn, OpHandshake, hs); err != nil {
		_ = conn.Close()
		return err
	}
	op, payload, err := ReadFrame(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if op == OpClose {
		_ = conn.Close()
		return fmt.Errorf("discord closed handshake: %s", gjson.GetBytes(payload, "message").String())
	}
	_ = conn.SetDeadline(time.Time{})
	c.conn = conn
	return nil
}

// SetActivity publishes a as the presence of this process.
func (c *Client) SetActivity(a Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	body, err := json.Marshal(map[string]any{
		"cmd":   "SET_ACTIVITY",
		"args":  map[string]any{"pid": os.Getpid(), "activity": a},
		"nonce": uuid.NewString(),
	})
	if err != nil {
		return err
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer func() {
		if c.conn != nil {
			_ = c.conn.SetDeadline(time.Time{})
		}
	}()
	if err := WriteFrame(c.conn, OpFrame, body); err != nil {
		c.dropLocked()
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	for {
		op, payload, err := ReadFrame(c.conn)
		if err != nil {
			c.dropLocked()
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		switch op {
		case OpPing:
			if err := WriteFrame(c.conn, OpPong, payload); err != nil {
				c.dropLocked()
				return fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
			continue
		case OpClose:
			c.dropLocked()
			return fmt.Errorf("%w: discord closed connection: %s", ErrConnectionLost, gjson.GetBytes(payload, "message").String())
		}
		if gjson.GetBytes(payload, "evt").String() == "ERROR" {
			return fmt.Errorf("set activity: %s", gjson.GetBytes(payload, "data.message").String())
		}
		return nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = WriteFrame(c.conn, OpClose, []byte("{}"))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
