// Package client is a Go client for the ProxyHawk geographic testing
// service. It speaks the JSON message protocol over one persistent
// websocket: request verbs correlate their responses by message id,
// domain subscriptions deliver server pushes to caller listeners, and
// an application-level heartbeat keeps the connection warm.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

// Client owns one persistent connection to the server. All verbs share
// it; many requests may be outstanding concurrently, each waiting only
// on its own correlation entry.
type Client struct {
	config *Config

	ctx    context.Context
	cancel context.CancelFunc

	tag         string
	idGenerator *messageIdGenerator

	correlations  *correlationTable
	subscriptions *subscriptionRegistry

	// connectMutex serializes Connect end to end so two callers
	// cannot both dial and race to install their conn
	connectMutex sync.Mutex

	stateMutex    sync.Mutex
	connected     bool
	ws            *websocket.Conn
	sessionCancel context.CancelFunc

	// gorilla requires a single concurrent writer
	writeMutex sync.Mutex
}

func NewClient(config *Config) *Client {
	return NewClientWithContext(context.Background(), config)
}

func NewClientWithContext(ctx context.Context, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	tag := ClientTag(config.AuthToken)
	return &Client{
		config:        config,
		ctx:           cancelCtx,
		cancel:        cancel,
		tag:           tag,
		idGenerator:   newMessageIdGenerator(tag),
		correlations:  newCorrelationTable(),
		subscriptions: newSubscriptionRegistry(config.OnDomainUpdate),
	}
}

// Connect dials the server, announces the configured regions and test
// mode, and starts the receive and heartbeat loops. A failed dial is
// retried up to MaxRetries additional times spaced ReconnectDelay
// apart; when every attempt fails the last error is reported to the
// error observer and returned. Concurrent calls share one session:
// the first dials, the rest wait and return once it is up.
func (self *Client) Connect(ctx context.Context) error {
	self.connectMutex.Lock()
	defer self.connectMutex.Unlock()

	if self.IsConnected() {
		return nil
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.config.WsHandshakeTimeout,
	}

	var ws *websocket.Conn
	var err error
	for attempt := 0; ; attempt += 1 {
		glog.V(2).Infof("[%s]connect %s\n", self.tag, self.config.Url)
		ws, _, err = dialer.DialContext(ctx, self.config.Url, authHeader(self.config.AuthToken))
		if err == nil {
			break
		}
		glog.Infof("[%s]connect error = %s\n", self.tag, err)
		if self.config.MaxRetries <= attempt {
			self.reportError(err)
			return err
		}
		select {
		case <-ctx.Done():
			self.reportError(ctx.Err())
			return ctx.Err()
		case <-self.ctx.Done():
			return self.ctx.Err()
		case <-time.After(self.config.ReconnectDelay):
		}
	}

	sessionCtx, sessionCancel := context.WithCancel(self.ctx)

	self.stateMutex.Lock()
	self.ws = ws
	self.connected = true
	self.sessionCancel = sessionCancel
	self.stateMutex.Unlock()

	// announce regions and test mode before anything else on the socket
	if err := self.sendConfig(); err != nil {
		glog.Infof("[%s]set_config error = %s\n", self.tag, err)
	}

	go self.receivePump(ws, sessionCancel)
	go self.heartbeat(sessionCtx)

	if self.config.OnConnected != nil {
		self.config.OnConnected()
	}
	glog.V(1).Infof("[%s]connected\n", self.tag)
	return nil
}

// Disconnect tears the session down: stops the pumps, closes the
// socket, and fails every pending request with ErrConnectionLost.
// Safe to call at any time, including before a successful Connect, and
// safe to call twice.
func (self *Client) Disconnect() {
	self.stateMutex.Lock()
	sessionCancel := self.sessionCancel
	ws := self.ws
	self.stateMutex.Unlock()

	if sessionCancel != nil {
		sessionCancel()
	}
	if ws != nil {
		// a close frame lets the server drop its subscription state
		self.writeMutex.Lock()
		ws.SetWriteDeadline(time.Now().Add(self.config.WriteTimeout))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		self.writeMutex.Unlock()
		self.teardown(ws)
	}
}

// Close releases the client. The client cannot be reused afterward.
func (self *Client) Close() {
	self.Disconnect()
	self.cancel()
}

func (self *Client) IsConnected() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.connected
}

// Subscriptions lists the domains that currently have local listeners.
func (self *Client) Subscriptions() []string {
	return self.subscriptions.Domains()
}

// send serializes one envelope onto the socket. Every writer goes
// through here, which also enforces the not-connected failure before
// any bytes leave the client.
func (self *Client) send(message *Message) error {
	self.stateMutex.Lock()
	connected := self.connected
	ws := self.ws
	self.stateMutex.Unlock()
	if !connected || ws == nil {
		return ErrNotConnected
	}

	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	self.writeMutex.Lock()
	defer self.writeMutex.Unlock()
	ws.SetWriteDeadline(time.Now().Add(self.config.WriteTimeout))
	if err := ws.WriteJSON(message); err != nil {
		glog.Infof("[%s]-> error = %s\n", self.tag, err)
		return err
	}
	glog.V(2).Infof("[%s]-> %s %s\n", self.tag, message.Type, message.Id)
	return nil
}

// set_config carries no id. The server does not have to acknowledge
// the connect-time announcement.
func (self *Client) sendConfig() error {
	data, err := marshalData(&ClientConfigUpdate{
		Regions:  self.config.Regions,
		TestMode: self.config.TestMode,
	})
	if err != nil {
		return err
	}
	return self.send(&Message{
		Type: MessageTypeSetConfig,
		Data: data,
	})
}

// receivePump reads envelopes until the transport closes or errors.
// A malformed envelope loses only itself; a read error ends the
// session.
func (self *Client) receivePump(ws *websocket.Conn, sessionCancel context.CancelFunc) {
	defer func() {
		sessionCancel()
		self.teardown(ws)
	}()

	for {
		messageType, messageBytes, err := ws.ReadMessage()
		if err != nil {
			if !self.IsConnected() {
				// local disconnect already in progress
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.V(1).Infof("[%s]<- closed\n", self.tag)
			} else {
				glog.Infof("[%s]<- error = %s\n", self.tag, err)
				self.reportError(err)
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		var message Message
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			glog.Infof("[%s]<- decode error = %s\n", self.tag, err)
			continue
		}
		self.route(&message)
	}
}

// route applies the dispatch rule: an id that matches a pending
// request claims the envelope no matter its type, everything else is
// a push.
func (self *Client) route(message *Message) {
	if message.Id != "" && self.correlations.Resolve(message.Id, message) {
		glog.V(2).Infof("[%s]<- %s %s\n", self.tag, message.Type, message.Id)
		return
	}

	switch message.Type {
	case MessageTypeWelcome:
		var welcome Welcome
		if err := json.Unmarshal(message.Data, &welcome); err == nil && welcome.Server != "" {
			glog.V(1).Infof("[%s]welcome from %s %s\n", self.tag, welcome.Server, welcome.Version)
		} else {
			glog.V(1).Infof("[%s]welcome\n", self.tag)
		}
	case MessageTypeDomainUpdate:
		self.subscriptions.Dispatch(message.Domain, message.Data)
	case MessageTypeError:
		glog.Infof("[%s]server error = %s\n", self.tag, message.Error)
		self.reportError(&RemoteError{Op: "server", Message: message.Error})
	default:
		glog.V(2).Infof("[%s]<- unhandled %s\n", self.tag, message.Type)
	}
}

// heartbeat keeps the connection warm with an application-level ping
// on a fixed interval. The pong comes back unsolicited (no waiter) and
// is dropped by route. A ping that cannot be written means the
// transport is gone, so the session ends rather than lingering
// half-dead.
func (self *Client) heartbeat(sessionCtx context.Context) {
	ticker := time.NewTicker(self.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sessionCtx.Done():
			return
		case <-ticker.C:
			message := &Message{
				Type: MessageTypePing,
				Id:   self.idGenerator.NextId(),
			}
			if err := self.send(message); err != nil {
				if self.IsConnected() {
					glog.Infof("[%s]heartbeat error = %s\n", self.tag, err)
					self.Disconnect()
				}
				return
			}
		}
	}
}

// teardown transitions to disconnected exactly once per session.
func (self *Client) teardown(ws *websocket.Conn) {
	self.stateMutex.Lock()
	wasConnected := self.connected && self.ws == ws
	if wasConnected {
		self.connected = false
		self.ws = nil
		self.sessionCancel = nil
	}
	self.stateMutex.Unlock()
	if !wasConnected {
		return
	}

	ws.Close()
	self.correlations.FailAll()

	if self.config.OnDisconnected != nil {
		func() {
			defer recoverCallback()
			self.config.OnDisconnected()
		}()
	}
	glog.V(1).Infof("[%s]disconnected\n", self.tag)
}

func (self *Client) reportError(err error) {
	if self.config.OnError != nil {
		func() {
			defer recoverCallback()
			self.config.OnError(err)
		}()
	}
}

func recoverCallback() {
	if r := recover(); r != nil {
		glog.Infof("[cb]panic = %v\n", r)
	}
}
