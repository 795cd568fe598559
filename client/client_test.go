package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	internalnet "github.com/gOOvER/EDMCOverlay/internal/net"
	"github.com/gOOvER/EDMCOverlay/message"
	"github.com/gOOvER/EDMCOverlay/metrics"
	"github.com/gOOvER/EDMCOverlay/overlaytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectAndSend(t *testing.T) {
	ctx := context.Background()

	server, err := overlaytest.Start("")
	require.NoError(t, err)
	defer server.Close()

	c := New(server.Addr())
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, Connected, c.State())

	// connecting again is a no-op
	require.NoError(t, c.Connect(ctx))

	err = c.SendRaw(ctx, message.Text("m1", "Hello", "red", "normal", 10, 20, 4))
	require.NoError(t, err)

	msgs, err := server.WaitFor(1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0]["text"])

	require.NoError(t, c.Disconnect())
	assert.Equal(t, Disconnected, c.State())
}

func TestWireFormat(t *testing.T) {
	ctx := context.Background()

	server, err := overlaytest.Start("")
	require.NoError(t, err)
	defer server.Close()

	c := New(server.Addr())
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	require.NoError(t, c.SendRaw(ctx, message.Text("m1", "Hello", "red", "normal", 10, 20, 4)))

	_, err = server.WaitFor(1, 2*time.Second)
	require.NoError(t, err)

	lines := server.Lines()
	require.Len(t, lines, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, map[string]any{
		"id":    "m1",
		"color": "red",
		"text":  "Hello",
		"size":  "normal",
		"x":     float64(10),
		"y":     float64(20),
		"ttl":   float64(4),
	}, decoded)
}

func TestConnectFailsAfterExactlyNAttempts(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var dialTimes []time.Time

	c := New("127.0.0.1:1", WithAttempts(3), WithRetryDelay(50*time.Millisecond))
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		mu.Lock()
		dialTimes = append(dialTimes, time.Now())
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	err := c.Connect(ctx)
	require.Error(t, err)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.Equal(t, "127.0.0.1:1", connErr.Addr)
	assert.EqualError(t, connErr.Last, "connection refused")

	assert.Equal(t, Disconnected, c.State())

	require.Len(t, dialTimes, 3)
	for i := 1; i < len(dialTimes); i++ {
		gap := dialTimes[i].Sub(dialTimes[i-1])
		assert.GreaterOrEqual(t, gap, 50*time.Millisecond, "attempts %d and %d too close", i, i+1)
	}
}

func TestConnectAttemptBudgetFloor(t *testing.T) {
	ctx := context.Background()

	// a zero or negative budget still buys exactly one dial and a real
	// ConnectError, never a panic
	for _, budget := range []int{0, -3} {
		var dials int
		c := New("127.0.0.1:1", WithAttempts(budget))
		c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			dials++
			return nil, errors.New("connection refused")
		}

		err := c.Connect(ctx)
		require.Error(t, err)

		var connErr *ConnectError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, 1, connErr.Attempts)
		assert.EqualError(t, connErr.Last, "connection refused")
		assert.Equal(t, 1, dials)
		assert.Equal(t, Disconnected, c.State())
	}
}

func TestConnectUnreachableEndpoint(t *testing.T) {
	addr, err := internalnet.GetUnusedTCPAddr()
	require.NoError(t, err)

	c := New(addr,
		WithAttempts(2),
		WithRetryDelay(10*time.Millisecond),
		WithDialTimeout(500*time.Millisecond),
	)

	err = c.Connect(context.Background())
	require.Error(t, err)

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 2, connErr.Attempts)
	assert.Equal(t, Disconnected, c.State())
}

func TestConnectConcurrentCallersShareOneConnection(t *testing.T) {
	ctx := context.Background()

	server, err := overlaytest.Start("")
	require.NoError(t, err)
	defer server.Close()

	var dials int
	var mu sync.Mutex
	c := New(server.Addr())
	realDial := c.dial
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return realDial(ctx, network, addr)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Connect(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, Connected, c.State())
	mu.Lock()
	assert.Equal(t, 1, dials)
	mu.Unlock()
}

func TestSendRequiresConnect(t *testing.T) {
	c := New("127.0.0.1:1")
	err := c.SendRaw(context.Background(), message.Command("exit"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSendNilMessage(t *testing.T) {
	c := New("127.0.0.1:1")
	err := c.SendRaw(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSendSanitizes(t *testing.T) {
	ctx := context.Background()

	server, err := overlaytest.Start("")
	require.NoError(t, err)
	defer server.Close()

	c := New(server.Addr())
	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()

	err = c.SendRaw(ctx, message.Raw{"id": "t", "text": "hi", "malicious": "rm -rf /", "x": "nan"})
	require.NoError(t, err)

	msgs, err := server.WaitFor(1, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, message.Raw{"id": "t", "text": "hi"}, msgs[0])
}

func TestSendFailureDropsConnection(t *testing.T) {
	ctx := context.Background()

	server, err := overlaytest.Start("")
	require.NoError(t, err)
	defer server.Close()

	c := New(server.Addr(), WithRetryDelay(10*time.Millisecond))
	require.NoError(t, c.Connect(ctx))

	require.NoError(t, c.SendRaw(ctx, message.Text("m1", "before", "red", "normal", 0, 0, 1)))
	_, err = server.WaitFor(1, 2*time.Second)
	require.NoError(t, err)

	server.DropConnections()

	// the reset may take a write or two to surface
	var sendErr error
	for i := 0; i < 20; i++ {
		sendErr = c.SendRaw(ctx, message.Text("m2", "after", "red", "normal", 0, 0, 1))
		if sendErr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Error(t, sendErr)

	var lost *ConnectionLostError
	require.ErrorAs(t, sendErr, &lost)
	assert.Equal(t, Disconnected, c.State())

	// no implicit reconnect on send
	err = c.SendRaw(ctx, message.Text("m3", "still down", "red", "normal", 0, 0, 1))
	require.ErrorIs(t, err, ErrNotConnected)

	// an explicit connect restores service
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.SendRaw(ctx, message.Text("m4", "back", "red", "normal", 0, 0, 1)))
}

func TestDisconnectIdempotent(t *testing.T) {
	ctx := context.Background()

	server, err := overlaytest.Start("")
	require.NoError(t, err)
	defer server.Close()

	c := New(server.Addr())
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.Equal(t, Disconnected, c.State())
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()

	server, err := overlaytest.Start("")
	require.NoError(t, err)
	defer server.Close()

	summary := metrics.NewSummary()
	c := New(server.Addr(), WithMetrics(summary))
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.SendRaw(ctx, message.Text("m1", "hi", "red", "normal", 0, 0, 1)))
	require.NoError(t, c.Disconnect())

	stats := summary.Snapshot()
	assert.Equal(t, int64(1), stats.Connections.Total)
	assert.Equal(t, 0, stats.Connections.Current)
	assert.Equal(t, int64(1), stats.Messages.TotalSent)
	assert.Equal(t, int64(1), stats.Messages.ByType["message"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
}
