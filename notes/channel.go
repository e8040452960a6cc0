package notes

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// event types pushed by the platform
const EventTypeCommentCreated = "comment-created"
const EventTypeCommentsList = "comments-list"

type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusError        ConnectionStatus = "error"
)

// MessageEnvelope is the typed envelope on the wire.
type MessageEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type SubscriberFunc func(data json.RawMessage)

type StatusFunc func(status ConnectionStatus)

// wsConn is the subset of *websocket.Conn the channel uses.
// settings can swap the dial for tests.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type DialFunc func(ctx context.Context, wsUrl string) (wsConn, error)

type RealtimeChannelSettings struct {
	WsHandshakeTimeout time.Duration
	// fixed delay between reconnect attempts. A known simplification over
	// exponential backoff; the invariant is max-attempts-then-stop.
	ReconnectTimeout     time.Duration
	MaxReconnectAttempts int
	PingTimeout          time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	Dial                 DialFunc
}

func DefaultRealtimeChannelSettings() *RealtimeChannelSettings {
	return &RealtimeChannelSettings{
		WsHandshakeTimeout:   2 * time.Second,
		ReconnectTimeout:     3 * time.Second,
		MaxReconnectAttempts: 5,
		PingTimeout:          15 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadTimeout:          60 * time.Second,
	}
}

func defaultDial(handshakeTimeout time.Duration) DialFunc {
	return func(ctx context.Context, wsUrl string) (wsConn, error) {
		dialer := &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		}
		ws, _, err := dialer.DialContext(ctx, wsUrl, nil)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
}

// RealtimeChannel owns the one push connection to the platform.
// inbound envelopes are fanned out to subscribers by type, strictly in
// receipt order on the single reader goroutine. The channel never touches
// the cache; cache policy lives with the subscribers.
type RealtimeChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	wsUrl    string
	settings *RealtimeChannelSettings
	dial     DialFunc

	mutex             sync.Mutex
	status            ConnectionStatus
	lastError         error
	reconnectAttempts int
	reconnectTimer    *time.Timer
	conn              wsConn
	closed            bool
	subscribers       map[string]*CallbackList[SubscriberFunc]

	statusCallbacks *CallbackList[StatusFunc]
}

func NewRealtimeChannelWithDefaults(ctx context.Context, wsUrl string) *RealtimeChannel {
	return NewRealtimeChannel(ctx, wsUrl, DefaultRealtimeChannelSettings())
}

func NewRealtimeChannel(ctx context.Context, wsUrl string, settings *RealtimeChannelSettings) *RealtimeChannel {
	cancelCtx, cancel := context.WithCancel(ctx)

	dial := settings.Dial
	if dial == nil {
		dial = defaultDial(settings.WsHandshakeTimeout)
	}

	return &RealtimeChannel{
		ctx:             cancelCtx,
		cancel:          cancel,
		wsUrl:           wsUrl,
		settings:        settings,
		dial:            dial,
		status:          ConnectionStatusDisconnected,
		subscribers:     map[string]*CallbackList[SubscriberFunc]{},
		statusCallbacks: NewCallbackList[StatusFunc](),
	}
}

func (self *RealtimeChannel) Status() ConnectionStatus {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.status
}

func (self *RealtimeChannel) LastError() error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.lastError
}

func (self *RealtimeChannel) ReconnectAttempts() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.reconnectAttempts
}

func (self *RealtimeChannel) AddStatusCallback(statusCallback StatusFunc) func() {
	callbackId := self.statusCallbacks.Add(statusCallback)
	return func() {
		self.statusCallbacks.Remove(callbackId)
	}
}

// Connect opens the transport connection. No-op when already connected or
// connecting. A manual connect clears the intentional-close flag and any
// pending automatic reconnect.
func (self *RealtimeChannel) Connect() {
	self.mutex.Lock()
	if self.status == ConnectionStatusConnected || self.status == ConnectionStatusConnecting {
		self.mutex.Unlock()
		return
	}
	self.closed = false
	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
		self.reconnectTimer = nil
	}
	self.status = ConnectionStatusConnecting
	self.lastError = nil
	self.mutex.Unlock()
	self.notifyStatus(ConnectionStatusConnecting)

	go self.runOnce()
}

// Disconnect closes with the normal closure code, which suppresses
// auto-reconnect. Idempotent.
func (self *RealtimeChannel) Disconnect() {
	self.mutex.Lock()
	self.closed = true
	if self.reconnectTimer != nil {
		self.reconnectTimer.Stop()
		self.reconnectTimer = nil
	}
	conn := self.conn
	alreadyDisconnected := conn == nil && self.status == ConnectionStatusDisconnected
	self.mutex.Unlock()

	if alreadyDisconnected {
		return
	}
	if conn != nil {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(self.settings.WriteTimeout))
		conn.Close()
		// the reader loop observes the close and settles the status
	} else {
		self.setStatus(ConnectionStatusDisconnected, nil)
	}
}

func (self *RealtimeChannel) Close() {
	self.Disconnect()
	self.cancel()
}

// Subscribe registers a callback for one event type. The returned closure
// removes exactly that callback; the registry entry for the type is pruned
// when its last callback is removed.
func (self *RealtimeChannel) Subscribe(eventType string, subscriber SubscriberFunc) func() {
	self.mutex.Lock()
	list := self.subscribers[eventType]
	if list == nil {
		list = NewCallbackList[SubscriberFunc]()
		self.subscribers[eventType] = list
	}
	callbackId := list.Add(subscriber)
	self.mutex.Unlock()

	return func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()
		if list := self.subscribers[eventType]; list != nil {
			list.Remove(callbackId)
			if list.Len() == 0 {
				delete(self.subscribers, eventType)
			}
		}
	}
}

func (self *RealtimeChannel) setStatus(status ConnectionStatus, err error) {
	self.mutex.Lock()
	self.status = status
	self.lastError = err
	self.mutex.Unlock()
	self.notifyStatus(status)
}

func (self *RealtimeChannel) notifyStatus(status ConnectionStatus) {
	for _, statusCallback := range self.statusCallbacks.Get() {
		statusCallback := statusCallback
		safeInvoke(func() {
			statusCallback(status)
		})
	}
}

func (self *RealtimeChannel) runOnce() {
	conn, err := self.dial(self.ctx, self.wsUrl)
	if err != nil {
		self.mutex.Lock()
		closed := self.closed
		self.mutex.Unlock()
		if closed {
			// intentionally closed mid-dial; Disconnect already settled the
			// status as disconnected
			return
		}
		glog.Infof("[rt]connect error = %s\n", err)
		self.setStatus(ConnectionStatusError, &TransportError{Err: err})
		self.scheduleReconnect()
		return
	}

	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		conn.Close()
		return
	}
	self.conn = conn
	self.status = ConnectionStatusConnected
	self.lastError = nil
	self.reconnectAttempts = 0
	self.mutex.Unlock()
	self.notifyStatus(ConnectionStatusConnected)
	glog.Infof("[rt]connected %s\n", self.wsUrl)

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	// keep intermediaries from dropping the idle connection
	go func() {
		defer handleCancel()
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingTimeout):
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(self.settings.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	if 0 < self.settings.ReadTimeout {
		conn.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		conn.SetPongHandler(func(appData string) error {
			conn.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			return nil
		})
	}

	// single reader: messages fan out in receipt order with no interleaving
	abnormal := true
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				abnormal = false
			}
			glog.Infof("[rt]<- closed = %s\n", err)
			break
		}
		if 0 < self.settings.ReadTimeout {
			conn.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			self.dispatch(message)
		}
	}

	handleCancel()
	conn.Close()

	self.mutex.Lock()
	self.conn = nil
	closed := self.closed
	self.mutex.Unlock()

	self.setStatus(ConnectionStatusDisconnected, nil)
	if !closed && abnormal {
		self.scheduleReconnect()
	}
}

// dispatch fans one envelope out to the subscribers registered for its type.
// a panicking subscriber is isolated; the remaining subscribers still run and
// the channel stays up.
func (self *RealtimeChannel) dispatch(message []byte) {
	var envelope MessageEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		glog.Infof("[rt]drop malformed message = %s\n", err)
		return
	}

	self.mutex.Lock()
	var subscribers []SubscriberFunc
	if list := self.subscribers[envelope.Type]; list != nil {
		subscribers = list.Get()
	}
	self.mutex.Unlock()

	glog.V(2).Infof("[rt]<-%s (%d subscribers)\n", envelope.Type, len(subscribers))
	for _, subscriber := range subscribers {
		subscriber := subscriber
		safeInvoke(func() {
			subscriber(envelope.Data)
		})
	}
}

// schedule exactly one reconnect after the fixed delay, until the attempt
// budget is exhausted. After that the channel stays disconnected until a
// manual Connect.
func (self *RealtimeChannel) scheduleReconnect() {
	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		return
	}
	if self.settings.MaxReconnectAttempts <= self.reconnectAttempts {
		glog.Infof("[rt]reconnect attempts exhausted (%d)\n", self.reconnectAttempts)
		self.status = ConnectionStatusDisconnected
		self.mutex.Unlock()
		self.notifyStatus(ConnectionStatusDisconnected)
		return
	}
	self.reconnectAttempts += 1
	attempt := self.reconnectAttempts
	self.reconnectTimer = time.AfterFunc(self.settings.ReconnectTimeout, func() {
		glog.Infof("[rt]reconnect %d/%d\n", attempt, self.settings.MaxReconnectAttempts)
		self.Connect()
	})
	self.mutex.Unlock()
}
