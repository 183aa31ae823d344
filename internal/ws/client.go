package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Client wraps a websocket connection for one authenticated user. gorilla
// allows only one concurrent writer per connection, so all writes go through
// the mutex.
type Client struct {
	userID string
	conn   *websocket.Conn

	mu sync.Mutex
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{userID: userID, conn: conn}
}

func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) Send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(payload)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
