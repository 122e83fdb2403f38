package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

// newConnectionPair returns a server-side Connection and the client socket
// talking to it.
func newConnectionPair(t *testing.T, bufferSize int) (*Connection, *websocket.Conn) {
	t.Helper()
	serverConns := make(chan *Connection, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- NewConnection(ws, bufferSize, time.Second)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-serverConns:
		t.Cleanup(func() { conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never upgraded")
		return nil, nil
	}
}

func TestConnection_SendDeliversInOrder(t *testing.T) {
	conn, client := newConnectionPair(t, 0)
	assert.NotEmpty(t, conn.ID())

	for _, frame := range []string{`{"kind":"a"}`, `{"kind":"b"}`, `{"kind":"c"}`} {
		require.NoError(t, conn.Send([]byte(frame)))
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{`{"kind":"a"}`, `{"kind":"b"}`, `{"kind":"c"}`} {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestConnection_PingReachesClient(t *testing.T) {
	conn, client := newConnectionPair(t, 0)

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, conn.Ping())
	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("client never saw the ping")
	}
}

func TestConnection_CloseIdempotentAndFailsFast(t *testing.T) {
	conn, _ := newConnectionPair(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.Close()
		}()
	}
	wg.Wait()

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
	assert.ErrorIs(t, conn.Send([]byte("x")), ErrConnectionClosed)
	assert.ErrorIs(t, conn.Ping(), ErrConnectionClosed)
}

func TestConnection_FullBufferClosesSlowClient(t *testing.T) {
	// no writer goroutine: the queue never drains
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{
		id:      "slow",
		writeCh: make(chan []byte, 2),
		pingCh:  make(chan struct{}, 1),
		closeCh: make(chan closeRequest, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	require.NoError(t, conn.Send([]byte("1")))
	require.NoError(t, conn.Send([]byte("2")))
	assert.ErrorIs(t, conn.Send([]byte("3")), ErrSendBufferFull)
	assert.ErrorIs(t, conn.Send([]byte("4")), ErrConnectionClosed)

	select {
	case <-conn.Done():
	default:
		t.Fatal("overflow should close the connection")
	}
}

func TestConnection_CloseAfterFlush(t *testing.T) {
	conn, client := newConnectionPair(t, 0)

	require.NoError(t, conn.Send([]byte(`{"kind":"connection_status"}`)))
	conn.CloseAfterFlush(websocket.ClosePolicyViolation, "unauthenticated")

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"connection_status"}`, string(data))

	_, _, err = client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "unauthenticated", closeErr.Text)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection should be closed after the flush")
	}
}
