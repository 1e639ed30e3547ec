package httpclient

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// CheckWebsocketURL applies the client's URL policy to a ws or wss URL.
func (c *Client) CheckWebsocketURL(raw string) error {
	return c.guard.validateWebsocket(raw)
}

// WebsocketDialer returns a dialer that connects through the same address
// checks as HTTP requests.
func (c *Client) WebsocketDialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
		NetDialContext:   c.guard.dialContext(),
	}
}
