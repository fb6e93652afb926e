package session

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gestures-server/internal/protocol"
)

// Runtime is the server-side session state machine. It owns the two
// participant slots, the lifecycle phase, vote state, message dispatch,
// and the tick loop, and invokes the app's hooks at the defined points.
//
// All external entry points (HandleConnection, HandleDisconnection,
// HandleMessage, Stop, the tick loop) serialize on one mutex, so no two
// handlers ever run concurrently. App hooks run under that lock, which is
// why the hook-facing helpers (Broadcast, SendTo, EndSession) take no lock
// themselves: they are only ever reached from inside a dispatch turn.
type Runtime struct {
	app   App
	codec protocol.Codec
	log   *slog.Logger
	now   func() time.Time

	mu       sync.Mutex
	phase    Phase
	conns    map[Conn]*Participant
	tickStop chan struct{}
	lastTick time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithCodec replaces the JSON codec with an app-supplied serializer pair.
func WithCodec(c protocol.Codec) Option {
	return func(r *Runtime) { r.codec = c }
}

// WithLogger sets the runtime logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// WithClock injects the clock used for tick dt computation.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// NewRuntime creates a runtime in the waiting phase, bound to the app's
// hook bundle.
func NewRuntime(app App, opts ...Option) *Runtime {
	r := &Runtime{
		app:   app,
		codec: protocol.DefaultCodec,
		log:   slog.Default(),
		now:   time.Now,
		phase: PhaseWaiting,
		conns: make(map[Conn]*Participant),
	}
	for _, opt := range opts {
		opt(r)
	}
	if binder, ok := app.(RuntimeBinder); ok {
		binder.BindRuntime(r)
	}
	return r
}

// Phase returns the current session phase.
func (r *Runtime) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// ParticipantCount returns the number of occupied slots.
func (r *Runtime) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// HandleConnection attempts admission of a new connection. The first
// vacant number in {1, 2} is assigned; with both slots taken the
// connection gets a single error message and is closed.
func (r *Runtime) HandleConnection(conn Conn) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	number := r.vacantNumber()
	if number == 0 {
		r.send(conn, protocol.NewError("Session is full"))
		conn.Close()
		r.log.Warn("admission rejected, session full")
		return nil
	}

	p := &Participant{
		ID:     r.app.ParticipantID(number),
		Number: number,
	}
	r.conns[conn] = p

	var welcome, notice any
	r.safely("OnJoin", func() { welcome, notice = r.app.OnJoin(p) })

	r.send(conn, protocol.Welcome{
		Type:              protocol.TypeWelcome,
		ParticipantID:     p.ID,
		ParticipantNumber: p.Number,
		SessionPhase:      string(r.phase),
		AppData:           r.rawData(welcome),
	})

	for other, op := range r.conns {
		if op != p {
			r.send(other, protocol.OpponentJoined{
				Type:    protocol.TypeOpponentJoined,
				AppData: r.rawData(notice),
			})
		}
	}

	r.log.Info("participant joined", "participant", p.ID, "number", p.Number)
	return p
}

// HandleDisconnection destroys the participant bound to conn and notifies
// the remaining connection. The phase is left untouched; ending the
// session on departure is the app's call, made from OnLeave.
func (r *Runtime) HandleDisconnection(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.conns[conn]
	if !ok {
		return
	}

	r.safely("OnLeave", func() { r.app.OnLeave(p) })
	delete(r.conns, conn)

	for other := range r.conns {
		r.send(other, protocol.OpponentLeft{Type: protocol.TypeOpponentLeft})
	}

	r.log.Info("participant left", "participant", p.ID, "number", p.Number)
}

// HandleMessage parses one inbound frame from conn and dispatches it.
// Framework kinds are consumed internally; everything else goes to the
// app's OnMessage. The returned string is the canonical message type, or
// "" when the frame was unparseable.
func (r *Runtime) HandleMessage(conn Conn, raw []byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw = protocol.Normalize(raw)

	msgType, ok := protocol.PeekType(r.codec, raw)
	if !ok {
		r.send(conn, protocol.NewError("Invalid message format"))
		return ""
	}

	p, bound := r.conns[conn]
	if !bound {
		return msgType
	}

	switch msgType {
	case protocol.TypeParticipantReady:
		p.Ready = true
		r.evaluateStart()

	case protocol.TypeBotIdentify:
		p.Bot = true
		p.Ready = true
		r.evaluateStart()

	case protocol.TypePlayAgainVote:
		r.handlePlayAgainVote(p)

	default:
		var responses []Response
		r.safely("OnMessage", func() {
			responses = r.app.OnMessage(protocol.AppMessage{Type: msgType, Raw: raw}, p.ID, r.phase)
		})
		r.route(conn, responses)
	}

	return msgType
}

// EndSession moves the session from playing to finished and broadcasts
// session_ended. Calls outside the playing phase are logged no-ops, which
// also makes the operation idempotent. Callable only from app hooks.
func (r *Runtime) EndSession(winnerID string, winnerNumber int, reason protocol.EndReason) {
	if r.phase != PhasePlaying {
		r.log.Warn("refusing to end session outside playing phase", "phase", string(r.phase))
		return
	}

	r.stopTick()
	r.phase = PhaseFinished

	var appData json.RawMessage
	if provider, ok := r.app.(EndDataProvider); ok {
		var v any
		r.safely("SessionEndData", func() { v = provider.SessionEndData() })
		appData = r.rawData(v)
	}

	msg := protocol.SessionEnded{
		Type:         protocol.TypeSessionEnded,
		Reason:       reason,
		WinnerID:     winnerID,
		WinnerNumber: winnerNumber,
		AppData:      appData,
	}
	for conn := range r.conns {
		r.send(conn, msg)
	}

	r.log.Info("session ended", "reason", string(reason), "winner", winnerID)
}

// Broadcast sends an app message to every live connection. Callable only
// from app hooks. Sends after session_ended are dropped.
func (r *Runtime) Broadcast(msg any) {
	if r.phase == PhaseFinished {
		r.log.Debug("dropping app broadcast after session end")
		return
	}
	for conn := range r.conns {
		r.send(conn, msg)
	}
}

// SendTo sends an app message to one participant by id. Callable only
// from app hooks. Sends after session_ended are dropped.
func (r *Runtime) SendTo(participantID string, msg any) {
	if r.phase == PhaseFinished {
		r.log.Debug("dropping app send after session end")
		return
	}
	for conn, p := range r.conns {
		if p.ID == participantID {
			r.send(conn, msg)
			return
		}
	}
}

// Stop halts the tick loop. Connections are owned by the transport layer
// and stay open.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTick()
}

func (r *Runtime) vacantNumber() int {
	taken := [3]bool{}
	for _, p := range r.conns {
		taken[p.Number] = true
	}
	switch {
	case !taken[1]:
		return 1
	case !taken[2]:
		return 2
	default:
		return 0
	}
}

// evaluateStart fires the waiting->playing transition when both slots are
// occupied and ready. Evaluated synchronously whenever one of its inputs
// changes.
func (r *Runtime) evaluateStart() {
	if r.phase != PhaseWaiting || len(r.conns) != 2 {
		return
	}
	for _, p := range r.conns {
		if !p.Ready {
			return
		}
	}

	r.safely("OnSessionStart", func() { r.app.OnSessionStart() })
	r.phase = PhasePlaying

	for conn := range r.conns {
		r.send(conn, protocol.SessionStarted{Type: protocol.TypeSessionStarted})
	}
	r.log.Info("session started")

	r.startTick()
}

func (r *Runtime) handlePlayAgainVote(p *Participant) {
	if r.phase != PhaseFinished {
		r.log.Debug("ignoring play_again_vote outside finished phase", "phase", string(r.phase))
		return
	}
	if p.WantsPlayAgain {
		// Votes cannot be retracted; a re-send changes nothing.
		return
	}
	p.WantsPlayAgain = true

	voted := make([]string, 0, len(r.conns))
	all := true
	for _, q := range r.conns {
		if q.WantsPlayAgain {
			voted = append(voted, q.ID)
		} else {
			all = false
		}
	}
	sort.Strings(voted)

	status := protocol.PlayAgainStatus{
		Type:                protocol.TypePlayAgainStatus,
		VotedParticipantIDs: voted,
		TotalParticipants:   len(r.conns),
	}
	for conn := range r.conns {
		r.send(conn, status)
	}

	if all {
		r.reset()
	}
}

// reset performs the finished->waiting transition: votes clear, bots stay
// ready, humans must re-signal.
func (r *Runtime) reset() {
	var data any
	r.safely("OnReset", func() { data = r.app.OnReset() })

	for _, p := range r.conns {
		p.WantsPlayAgain = false
		p.Ready = p.Bot
	}
	r.phase = PhaseWaiting

	msg := protocol.SessionReset{
		Type:    protocol.TypeSessionReset,
		AppData: r.rawData(data),
	}
	for conn := range r.conns {
		r.send(conn, msg)
	}
	r.log.Info("session reset")

	// With two bots the start condition holds again immediately.
	r.evaluateStart()
}

func (r *Runtime) route(sender Conn, responses []Response) {
	for _, resp := range responses {
		switch resp.Target {
		case TargetSender:
			r.send(sender, resp.Message)
		case TargetOpponent:
			for conn := range r.conns {
				if conn != sender {
					r.send(conn, resp.Message)
				}
			}
		case TargetAll:
			for conn := range r.conns {
				r.send(conn, resp.Message)
			}
		default:
			r.log.Warn("app response with unknown target", "target", string(resp.Target))
		}
	}
}

// send encodes and writes one message, silently skipping closed
// connections. Send failures are transport errors, never fatal.
func (r *Runtime) send(conn Conn, msg any) {
	if !conn.IsOpen() {
		return
	}
	data, err := r.codec.Marshal(msg)
	if err != nil {
		r.log.Error("failed to encode message", "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		r.log.Debug("send failed", "error", err)
	}
}

func (r *Runtime) rawData(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := r.codec.Marshal(v)
	if err != nil {
		r.log.Error("failed to encode appData", "error", err)
		return nil
	}
	return data
}

// safely runs an app hook, containing panics. A panic mid-transition does
// not roll the transition back; the app keeps its own state coherent.
func (r *Runtime) safely(hook string, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("app hook panicked", "hook", hook, "panic", v)
		}
	}()
	fn()
}
