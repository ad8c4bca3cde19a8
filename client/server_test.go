package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testServer is a minimal in-process peer speaking the wire protocol.
// Each received envelope is recorded and handed to the scripted
// handler.
type testServer struct {
	server  *httptest.Server
	handler func(peer *wsPeer, message Message)

	mutex    sync.Mutex
	peer     *wsPeer
	upgrades int
	received []Message
}

type wsPeer struct {
	mutex sync.Mutex
	conn  *websocket.Conn
}

func (self *wsPeer) Send(message Message) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	self.conn.WriteJSON(message)
}

func (self *wsPeer) SendRaw(data string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.conn.WriteMessage(websocket.TextMessage, []byte(data))
}

func newTestServer(handler func(peer *wsPeer, message Message)) *testServer {
	ts := &testServer{
		handler: handler,
	}
	upgrader := websocket.Upgrader{}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		peer := &wsPeer{
			conn: conn,
		}
		ts.mutex.Lock()
		ts.peer = peer
		ts.upgrades += 1
		ts.mutex.Unlock()

		for {
			var message Message
			if err := conn.ReadJSON(&message); err != nil {
				return
			}
			ts.mutex.Lock()
			ts.received = append(ts.received, message)
			ts.mutex.Unlock()
			if ts.handler != nil {
				ts.handler(peer, message)
			}
		}
	}))
	return ts
}

func (self *testServer) Url() string {
	return "ws" + strings.TrimPrefix(self.server.URL, "http")
}

func (self *testServer) Close() {
	// httptest.Server.Close does not close hijacked connections, so
	// close the upgraded websocket explicitly to sever the transport.
	self.mutex.Lock()
	peer := self.peer
	self.mutex.Unlock()
	if peer != nil {
		peer.conn.Close()
	}
	self.server.Close()
}

func (self *testServer) Upgrades() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.upgrades
}

func (self *testServer) ReceivedCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return len(self.received)
}

func (self *testServer) CountByType(messageType string) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	count := 0
	for _, message := range self.received {
		if message.Type == messageType {
			count += 1
		}
	}
	return count
}

func (self *testServer) WaitReceived(t *testing.T, count int) {
	for i := 0; i < 200; i += 1 {
		if count <= self.ReceivedCount() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d messages", count)
}

func (self *testServer) Peer(t *testing.T) *wsPeer {
	for i := 0; i < 200; i += 1 {
		self.mutex.Lock()
		peer := self.peer
		self.mutex.Unlock()
		if peer != nil {
			return peer
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no client connected")
	return nil
}

func testConfig(url string) *Config {
	config := DefaultConfig()
	config.Url = url
	config.RequestTimeout = 2 * time.Second
	config.AckTimeout = 2 * time.Second
	config.ReconnectDelay = 10 * time.Millisecond
	config.MaxRetries = 0
	return config
}
