package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gestures-server/internal/apps/blockduel"
	"gestures-server/internal/config"
	"gestures-server/internal/protocol"
	"gestures-server/internal/server"
)

func startTestServer(t *testing.T) string {
	t.Helper()

	cfg := &config.Config{
		Port:                    config.DefaultPort,
		SessionID:               "client-test",
		AppID:                   blockduel.AppID,
		InactivityTimeout:       time.Minute,
		InactivityCheckInterval: time.Minute,
	}
	s, _ := server.New(cfg, blockduel.New())
	ts := httptest.NewServer(s.RegisterRoutes())

	t.Cleanup(func() {
		s.Shutdown(context.Background())
		ts.Close()
	})

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func TestClientJoinLatchesIdentity(t *testing.T) {
	assert := assert.New(t)
	wsURL := startTestServer(t)

	joined := make(chan struct{}, 1)
	var welcome protocol.Welcome
	c := New(Callbacks{
		OnSessionJoin: func(w protocol.Welcome) {
			welcome = w
			signal(joined)
		},
	}, Options{})

	assert.NoError(c.Connect(context.Background(), wsURL))
	defer c.Disconnect()

	waitSignal(t, joined, "welcome")

	assert.Equal(1, welcome.ParticipantNumber)
	assert.Equal(protocol.PhaseWaiting, welcome.SessionPhase)

	id, number := c.Identity()
	assert.Equal(welcome.ParticipantID, id)
	assert.Equal(1, number)
	assert.Equal(StateConnected, c.State())
	assert.Equal(protocol.PhaseWaiting, c.Phase())
}

// Both ready through the client API, both observe the start, phases
// mirror the server.
func TestClientSessionStart(t *testing.T) {
	assert := assert.New(t)
	wsURL := startTestServer(t)

	newPeer := func() (*Client, chan struct{}, chan struct{}) {
		joined := make(chan struct{}, 1)
		started := make(chan struct{}, 1)
		c := New(Callbacks{
			OnSessionJoin:  func(protocol.Welcome) { signal(joined) },
			OnSessionStart: func() { signal(started) },
		}, Options{})
		return c, joined, started
	}

	c1, joined1, started1 := newPeer()
	c2, joined2, started2 := newPeer()

	assert.NoError(c1.Connect(context.Background(), wsURL))
	defer c1.Disconnect()
	waitSignal(t, joined1, "first welcome")

	assert.NoError(c2.Connect(context.Background(), wsURL))
	defer c2.Disconnect()
	waitSignal(t, joined2, "second welcome")

	c1.SendReady()
	c2.SendReady()

	waitSignal(t, started1, "session start on first client")
	waitSignal(t, started2, "session start on second client")

	assert.Equal(protocol.PhasePlaying, c1.Phase())
	assert.Equal(protocol.PhasePlaying, c2.Phase())
}

// A departure mid-play triggers the app's forfeit rule, which ends the
// session before opponent_left is sent; the lone vote then resets it.
func TestClientOpponentLeaveEndAndReset(t *testing.T) {
	assert := assert.New(t)
	wsURL := startTestServer(t)

	joined1 := make(chan struct{}, 1)
	started1 := make(chan struct{}, 1)
	left := make(chan struct{}, 1)
	ended := make(chan struct{}, 1)
	statusCh := make(chan int, 4)
	resetCh := make(chan struct{}, 1)

	var endReason protocol.EndReason
	c1 := New(Callbacks{
		OnSessionJoin:  func(protocol.Welcome) { signal(joined1) },
		OnSessionStart: func() { signal(started1) },
		OnOpponentLeft: func() { signal(left) },
		OnSessionEnd: func(_ string, _ int, reason protocol.EndReason) {
			endReason = reason
			signal(ended)
		},
		OnPlayAgainStatus: func(voted, total int) { statusCh <- voted },
		OnSessionReset:    func([]byte) { signal(resetCh) },
	}, Options{})

	joined2 := make(chan struct{}, 1)
	c2 := New(Callbacks{
		OnSessionJoin: func(protocol.Welcome) { signal(joined2) },
	}, Options{})

	assert.NoError(c1.Connect(context.Background(), wsURL))
	defer c1.Disconnect()
	waitSignal(t, joined1, "first welcome")

	assert.NoError(c2.Connect(context.Background(), wsURL))
	waitSignal(t, joined2, "second welcome")

	c1.SendReady()
	c2.SendReady()
	waitSignal(t, started1, "session start")

	c2.Disconnect()
	waitSignal(t, left, "opponent_left")
	waitSignal(t, ended, "session_ended")
	assert.Equal(protocol.ReasonParticipantLeft, endReason)
	assert.Equal(protocol.PhaseFinished, c1.Phase())

	// One participant remains, so a single vote completes the count and
	// the session resets.
	c1.SendPlayAgainVote()
	select {
	case voted := <-statusCh:
		assert.Equal(1, voted)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for play_again_status")
	}
	waitSignal(t, resetCh, "session_reset")
	assert.Equal(protocol.PhaseWaiting, c1.Phase())
}

// App messages bypass framework handling and reach OnAppMessage.
func TestClientAppMessageDispatch(t *testing.T) {
	assert := assert.New(t)
	wsURL := startTestServer(t)

	joined1 := make(chan struct{}, 1)
	c1 := New(Callbacks{
		OnSessionJoin: func(protocol.Welcome) { signal(joined1) },
	}, Options{})

	joined2 := make(chan struct{}, 1)
	appMsg := make(chan protocol.AppMessage, 1)
	c2 := New(Callbacks{
		OnSessionJoin: func(protocol.Welcome) { signal(joined2) },
		OnAppMessage:  func(m protocol.AppMessage) { appMsg <- m },
	}, Options{})

	assert.NoError(c1.Connect(context.Background(), wsURL))
	defer c1.Disconnect()
	waitSignal(t, joined1, "first welcome")
	assert.NoError(c2.Connect(context.Background(), wsURL))
	defer c2.Disconnect()
	waitSignal(t, joined2, "second welcome")

	c1.SendAppMessage(blockduel.HandUpdate{Type: blockduel.TypeHandUpdate, X: 7, Y: 9})

	select {
	case m := <-appMsg:
		assert.Equal(blockduel.TypeOpponentHand, m.Type)
		var hand blockduel.OpponentHand
		assert.NoError(json.Unmarshal(m.Raw, &hand))
		assert.Equal(7.0, hand.X)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for relayed app message")
	}
}

// Sends while not connected are dropped, never queued.
func TestClientSendWhileDisconnectedIsDropped(t *testing.T) {
	c := New(Callbacks{}, Options{})
	c.SendReady()
	c.SendPlayAgainVote()
	c.SendAppMessage(map[string]string{"type": "x"})
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientDisconnectClearsState(t *testing.T) {
	assert := assert.New(t)
	wsURL := startTestServer(t)

	joined := make(chan struct{}, 1)
	c := New(Callbacks{
		OnSessionJoin: func(protocol.Welcome) { signal(joined) },
	}, Options{})

	assert.NoError(c.Connect(context.Background(), wsURL))
	waitSignal(t, joined, "welcome")

	c.Disconnect()

	assert.Equal(StateDisconnected, c.State())
	assert.Equal(protocol.PhaseWaiting, c.Phase())
	id, number := c.Identity()
	assert.Empty(id)
	assert.Zero(number)
}

// Reconnection retries up to the configured cap, then gives up.
func TestClientReconnectAttemptsBounded(t *testing.T) {
	assert := assert.New(t)

	c := New(Callbacks{}, Options{
		Reconnect:            true,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(c.Connect(ctx, "ws://127.0.0.1:1/ws"))

	assert.Eventually(func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.attempts == 2
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	assert.Equal(2, attempts, "attempts must not exceed the cap")
}

func TestClientConnectFailureSetsErrorState(t *testing.T) {
	assert := assert.New(t)

	c := New(Callbacks{}, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := c.Connect(ctx, "ws://127.0.0.1:1/ws")
	assert.Error(err)
	assert.Equal(StateError, c.State())
}
