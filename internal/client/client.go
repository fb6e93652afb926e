// Package client is the participant-side mirror of the session runtime:
// it owns the socket, tracks the session phase, demultiplexes framework
// messages from app messages, and emits ready/play-again signals.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"gestures-server/internal/protocol"
)

// ConnState is the socket-level connection state, tracked independently
// of the session phase.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

const defaultReconnectDelay = 2 * time.Second

// Callbacks are the typed events the client surfaces. Nil entries are
// skipped.
type Callbacks struct {
	OnConnectionState func(state ConnState)
	OnSessionJoin     func(welcome protocol.Welcome)
	OnOpponentJoined  func(appData []byte)
	OnOpponentLeft    func()
	OnSessionStart    func()
	OnSessionEnd      func(winnerID string, winnerNumber int, reason protocol.EndReason)
	OnPlayAgainStatus func(votedCount, totalParticipants int)
	OnSessionReset    func(appData []byte)
	OnError           func(message string)
	OnAppMessage      func(msg protocol.AppMessage)
}

// Options configure a Client. Reconnection is off by default: the server
// keeps no state across reconnects, so resuming is only safe while the
// session is still waiting.
type Options struct {
	Reconnect            bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Codec                protocol.Codec
	Logger               *slog.Logger
}

// Client is a session participant endpoint.
type Client struct {
	cb    Callbacks
	codec protocol.Codec
	log   *slog.Logger
	opts  Options

	mu                sync.Mutex
	state             ConnState
	sock              *websocket.Conn
	url               string
	phase             string
	participantID     string
	participantNumber int
	attempts          int
	reconnectTimer    *time.Timer
	closing           bool
}

// New creates a disconnected client.
func New(cb Callbacks, opts Options) *Client {
	if opts.Codec == nil {
		opts.Codec = protocol.DefaultCodec
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	return &Client{
		cb:    cb,
		codec: opts.Codec,
		log:   opts.Logger,
		opts:  opts,
		state: StateDisconnected,
		phase: protocol.PhaseWaiting,
	}
}

// State returns the socket state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Phase returns the mirrored session phase.
func (c *Client) Phase() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Identity returns the latched participant id and number from the last
// welcome, or ("", 0) before one arrives.
func (c *Client) Identity() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID, c.participantNumber
}

// Connect opens the socket. On success the reconnect counter clears and a
// read loop starts dispatching inbound frames.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	c.url = url
	c.closing = false
	c.mu.Unlock()
	c.setState(StateConnecting)

	sock, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		c.log.Warn("dial failed", "url", url, "error", err)
		c.setState(StateError)
		c.maybeScheduleReconnect()
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.sock = sock
	c.attempts = 0
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(sock)
	return nil
}

// Disconnect cancels any pending reconnect, closes the socket, resets the
// phase to waiting, and clears the participant identity.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	sock := c.sock
	c.sock = nil
	c.phase = protocol.PhaseWaiting
	c.participantID = ""
	c.participantNumber = 0
	c.mu.Unlock()

	if sock != nil {
		sock.Close(websocket.StatusNormalClosure, "")
	}
	c.setState(StateDisconnected)
}

// SendReady emits participant_ready.
func (c *Client) SendReady() {
	c.sendFramework(protocol.ParticipantReady{Type: protocol.TypeParticipantReady})
}

// SendBotIdentify announces this participant as a bot, which the server
// treats as implicit readiness.
func (c *Client) SendBotIdentify() {
	c.sendFramework(protocol.BotIdentify{Type: protocol.TypeBotIdentify})
}

// SendPlayAgainVote emits play_again_vote.
func (c *Client) SendPlayAgainVote() {
	c.sendFramework(protocol.PlayAgainVote{Type: protocol.TypePlayAgainVote})
}

// SendAppMessage forwards an app message verbatim.
func (c *Client) SendAppMessage(msg any) {
	c.sendFramework(msg)
}

// sendFramework encodes and writes one message. Sessions are too
// short-lived for offline buffering to mean anything, so sends while not
// connected are dropped with a warning, never queued.
func (c *Client) sendFramework(msg any) {
	c.mu.Lock()
	sock := c.sock
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || sock == nil {
		c.log.Warn("dropping send while not connected")
		return
	}

	data, err := c.codec.Marshal(msg)
	if err != nil {
		c.log.Error("failed to encode message", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sock.Write(ctx, websocket.MessageText, data); err != nil {
		c.log.Warn("send failed", "error", err)
	}
}

func (c *Client) readLoop(sock *websocket.Conn) {
	for {
		msgType, data, err := sock.Read(context.Background())
		if err != nil {
			c.handleClose()
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		c.dispatch(data)
	}
}

func (c *Client) handleClose() {
	c.mu.Lock()
	intentional := c.closing
	c.sock = nil
	c.mu.Unlock()

	if intentional {
		return
	}

	c.setState(StateDisconnected)
	c.maybeScheduleReconnect()
}

func (c *Client) maybeScheduleReconnect() {
	if !c.opts.Reconnect {
		return
	}

	c.mu.Lock()
	if c.closing || c.attempts >= c.opts.MaxReconnectAttempts {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	url := c.url
	c.reconnectTimer = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.log.Info("reconnecting", "attempt", attempt, "url", url)
		c.Connect(context.Background(), url)
	})
	c.mu.Unlock()
}

// dispatch routes one inbound frame: framework kinds update client state
// first and then fire their event; everything else goes to OnAppMessage.
func (c *Client) dispatch(raw []byte) {
	raw = protocol.Normalize(raw)

	msgType, ok := protocol.PeekType(c.codec, raw)
	if !ok {
		c.log.Warn("dropping unparseable frame")
		return
	}

	switch msgType {
	case protocol.TypeWelcome:
		var msg protocol.Welcome
		if err := c.codec.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("bad welcome", "error", err)
			return
		}
		c.mu.Lock()
		c.participantID = msg.ParticipantID
		c.participantNumber = msg.ParticipantNumber
		c.phase = msg.SessionPhase
		c.mu.Unlock()
		if c.cb.OnSessionJoin != nil {
			c.cb.OnSessionJoin(msg)
		}

	case protocol.TypeOpponentJoined:
		var msg protocol.OpponentJoined
		if err := c.codec.Unmarshal(raw, &msg); err != nil {
			return
		}
		if c.cb.OnOpponentJoined != nil {
			c.cb.OnOpponentJoined(msg.AppData)
		}

	case protocol.TypeOpponentLeft:
		if c.cb.OnOpponentLeft != nil {
			c.cb.OnOpponentLeft()
		}

	case protocol.TypeSessionStarted:
		c.mu.Lock()
		c.phase = protocol.PhasePlaying
		c.mu.Unlock()
		if c.cb.OnSessionStart != nil {
			c.cb.OnSessionStart()
		}

	case protocol.TypeSessionEnded:
		var msg protocol.SessionEnded
		if err := c.codec.Unmarshal(raw, &msg); err != nil {
			return
		}
		c.mu.Lock()
		c.phase = protocol.PhaseFinished
		c.mu.Unlock()
		if c.cb.OnSessionEnd != nil {
			c.cb.OnSessionEnd(msg.WinnerID, msg.WinnerNumber, msg.Reason)
		}

	case protocol.TypePlayAgainStatus:
		var msg protocol.PlayAgainStatus
		if err := c.codec.Unmarshal(raw, &msg); err != nil {
			return
		}
		if c.cb.OnPlayAgainStatus != nil {
			c.cb.OnPlayAgainStatus(len(msg.VotedParticipantIDs), msg.TotalParticipants)
		}

	case protocol.TypeSessionReset:
		var msg protocol.SessionReset
		if err := c.codec.Unmarshal(raw, &msg); err != nil {
			return
		}
		c.mu.Lock()
		c.phase = protocol.PhaseWaiting
		c.mu.Unlock()
		if c.cb.OnSessionReset != nil {
			c.cb.OnSessionReset(msg.AppData)
		}

	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := c.codec.Unmarshal(raw, &msg); err != nil {
			return
		}
		if c.cb.OnError != nil {
			c.cb.OnError(msg.Message)
		}

	default:
		if c.cb.OnAppMessage != nil {
			c.cb.OnAppMessage(protocol.AppMessage{Type: msgType, Raw: raw})
		}
	}
}

func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.cb.OnConnectionState != nil {
		c.cb.OnConnectionState(state)
	}
}
