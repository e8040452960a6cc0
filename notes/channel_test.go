package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

type testWsRead struct {
	messageType int
	message     []byte
	err         error
}

// testWsConn stands in for *websocket.Conn behind the wsConn interface.
// reads are fed through a channel; Close unblocks a pending read with a
// non-close-code error, the same shape a closed tcp connection produces.
type testWsConn struct {
	readC     chan testWsRead
	closeC    chan struct{}
	closeOnce sync.Once

	mutex           sync.Mutex
	controlMessages []int
}

func newTestWsConn() *testWsConn {
	return &testWsConn{
		readC:  make(chan testWsRead, 32),
		closeC: make(chan struct{}),
	}
}

func (self *testWsConn) deliver(message []byte) {
	self.readC <- testWsRead{
		messageType: websocket.TextMessage,
		message:     message,
	}
}

func (self *testWsConn) fail(err error) {
	self.readC <- testWsRead{
		err: err,
	}
}

func (self *testWsConn) ReadMessage() (int, []byte, error) {
	select {
	case read := <-self.readC:
		return read.messageType, read.message, read.err
	case <-self.closeC:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (self *testWsConn) WriteMessage(messageType int, data []byte) error {
	return nil
}

func (self *testWsConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.controlMessages = append(self.controlMessages, messageType)
	return nil
}

func (self *testWsConn) SetReadDeadline(t time.Time) error {
	return nil
}

func (self *testWsConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (self *testWsConn) SetPongHandler(h func(appData string) error) {
}

func (self *testWsConn) Close() error {
	self.closeOnce.Do(func() {
		close(self.closeC)
	})
	return nil
}

func testChannelSettings(dial DialFunc) *RealtimeChannelSettings {
	settings := DefaultRealtimeChannelSettings()
	settings.ReconnectTimeout = 5 * time.Millisecond
	settings.MaxReconnectAttempts = 3
	settings.Dial = dial
	return settings
}

func testEnvelope(eventType string, data string) []byte {
	return []byte(fmt.Sprintf(`{"type": %q, "data": %s}`, eventType, data))
}

func TestRealtimeChannelOrderingAndPanicIsolation(t *testing.T) {
	conn := newTestWsConn()
	channel := NewRealtimeChannel(context.Background(), "ws://test", testChannelSettings(
		func(ctx context.Context, wsUrl string) (wsConn, error) {
			return conn, nil
		},
	))
	defer channel.Close()

	var mutex sync.Mutex
	received := []int{}
	unsubPanic := channel.Subscribe(EventTypeCommentCreated, func(data json.RawMessage) {
		panic("subscriber bug")
	})
	defer unsubPanic()
	unsub := channel.Subscribe(EventTypeCommentCreated, func(data json.RawMessage) {
		var payload struct {
			N int `json:"n"`
		}
		json.Unmarshal(data, &payload)
		mutex.Lock()
		received = append(received, payload.N)
		mutex.Unlock()
	})
	defer unsub()

	channel.Connect()
	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusConnected
	})

	for i := 0; i < 10; i += 1 {
		conn.deliver(testEnvelope(EventTypeCommentCreated, fmt.Sprintf(`{"n": %d}`, i)))
	}

	waitFor(t, 1*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(received) == 10
	})

	// strict receipt order, and the panicking subscriber did not take the
	// channel down
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, received)
	assert.Equal(t, ConnectionStatusConnected, channel.Status())
}

func TestRealtimeChannelReconnectExhaustion(t *testing.T) {
	var dials int64
	dialErr := errors.New("connection refused")
	channel := NewRealtimeChannel(context.Background(), "ws://test", testChannelSettings(
		func(ctx context.Context, wsUrl string) (wsConn, error) {
			atomic.AddInt64(&dials, 1)
			return nil, dialErr
		},
	))
	defer channel.Close()

	channel.Connect()

	// the initial attempt plus the full retry budget
	waitFor(t, 1*time.Second, func() bool {
		return atomic.LoadInt64(&dials) == 4
	})
	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusDisconnected
	})

	// no further attempts after exhaustion
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(4), atomic.LoadInt64(&dials))

	var transportErr *TransportError
	assert.Equal(t, true, errors.As(channel.LastError(), &transportErr))
}

func TestRealtimeChannelDisconnectSuppressesReconnect(t *testing.T) {
	var dials int64
	conn := newTestWsConn()
	channel := NewRealtimeChannel(context.Background(), "ws://test", testChannelSettings(
		func(ctx context.Context, wsUrl string) (wsConn, error) {
			atomic.AddInt64(&dials, 1)
			return conn, nil
		},
	))
	defer channel.Close()

	channel.Connect()
	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusConnected
	})

	channel.Disconnect()
	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusDisconnected
	})

	// an intentional close never auto-reconnects
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&dials))

	// the close handshake went out before the teardown
	conn.mutex.Lock()
	assert.Equal(t, []int{websocket.CloseMessage}, conn.controlMessages)
	conn.mutex.Unlock()

	// a second disconnect is a no-op
	channel.Disconnect()
	assert.Equal(t, ConnectionStatusDisconnected, channel.Status())
}

func TestRealtimeChannelDisconnectDuringDial(t *testing.T) {
	var dials int64
	dialStarted := make(chan struct{})
	releaseDial := make(chan struct{})
	channel := NewRealtimeChannel(context.Background(), "ws://test", testChannelSettings(
		func(ctx context.Context, wsUrl string) (wsConn, error) {
			if atomic.AddInt64(&dials, 1) == 1 {
				close(dialStarted)
			}
			<-releaseDial
			return nil, errors.New("connection refused")
		},
	))
	defer channel.Close()

	channel.Connect()
	<-dialStarted

	channel.Disconnect()
	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusDisconnected
	})

	// the dial failure lands after the intentional close and must not flip
	// the settled status or schedule a retry
	close(releaseDial)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ConnectionStatusDisconnected, channel.Status())
	assert.Equal(t, nil, channel.LastError())
	assert.Equal(t, int64(1), atomic.LoadInt64(&dials))
}

func TestRealtimeChannelServerNormalClose(t *testing.T) {
	var dials int64
	conn := newTestWsConn()
	channel := NewRealtimeChannel(context.Background(), "ws://test", testChannelSettings(
		func(ctx context.Context, wsUrl string) (wsConn, error) {
			atomic.AddInt64(&dials, 1)
			return conn, nil
		},
	))
	defer channel.Close()

	channel.Connect()
	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusConnected
	})

	conn.fail(&websocket.CloseError{
		Code: websocket.CloseNormalClosure,
		Text: "server going away",
	})

	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusDisconnected
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&dials))
}

func TestRealtimeChannelAbnormalCloseReconnects(t *testing.T) {
	var mutex sync.Mutex
	conns := []*testWsConn{}
	channel := NewRealtimeChannel(context.Background(), "ws://test", testChannelSettings(
		func(ctx context.Context, wsUrl string) (wsConn, error) {
			mutex.Lock()
			defer mutex.Unlock()
			conn := newTestWsConn()
			conns = append(conns, conn)
			return conn, nil
		},
	))
	defer channel.Close()

	channel.Connect()
	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusConnected
	})

	mutex.Lock()
	first := conns[0]
	mutex.Unlock()
	first.fail(errors.New("connection reset by peer"))

	waitFor(t, 1*time.Second, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(conns) == 2
	})
	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusConnected
	})

	// a successful reconnect resets the attempt budget
	assert.Equal(t, 0, channel.ReconnectAttempts())
}

func TestRealtimeChannelUnsubscribe(t *testing.T) {
	conn := newTestWsConn()
	channel := NewRealtimeChannel(context.Background(), "ws://test", testChannelSettings(
		func(ctx context.Context, wsUrl string) (wsConn, error) {
			return conn, nil
		},
	))
	defer channel.Close()

	var delivered int64
	unsub := channel.Subscribe(EventTypeCommentsList, func(data json.RawMessage) {
		atomic.AddInt64(&delivered, 1)
	})

	channel.Connect()
	waitFor(t, 1*time.Second, func() bool {
		return channel.Status() == ConnectionStatusConnected
	})

	conn.deliver(testEnvelope(EventTypeCommentsList, `{}`))
	waitFor(t, 1*time.Second, func() bool {
		return atomic.LoadInt64(&delivered) == 1
	})

	unsub()
	conn.deliver(testEnvelope(EventTypeCommentsList, `{}`))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&delivered))

	// removing the last callback for a type prunes its registry entry
	channel.mutex.Lock()
	subscriberTypes := len(channel.subscribers)
	channel.mutex.Unlock()
	assert.Equal(t, 0, subscriberTypes)

	// a second unsubscribe is a no-op
	unsub()
}
