package session

import (
	"time"

	"gestures-server/internal/protocol"
)

// Target selects the recipients of an app response.
type Target string

const (
	TargetSender   Target = "sender"
	TargetOpponent Target = "opponent"
	TargetAll      Target = "all"
)

// Response is one routed reply from App.OnMessage.
type Response struct {
	Target  Target
	Message any
}

// EndResult is returned by CheckSessionEnd when the app decides the
// session is over.
type EndResult struct {
	WinnerID     string
	WinnerNumber int
}

// App is the capability bundle a concrete application supplies to the
// runtime. The runtime owns the lifecycle; the app owns the semantics.
//
// Hooks run under the runtime's dispatch lock, so an app needs no locking
// of its own as long as it only touches its state from hooks.
type App interface {
	// ParticipantID maps a participant number (1 or 2) to the opaque id
	// used on the wire.
	ParticipantID(number int) string

	// OnJoin runs after admission. welcome is embedded as appData in the
	// new participant's welcome message; opponentNotice, when non-nil, is
	// embedded in the opponent_joined notification.
	OnJoin(p *Participant) (welcome any, opponentNotice any)

	// OnLeave runs before the participant record is destroyed. The phase
	// is untouched by a departure; an app that wants participant_left
	// semantics calls EndSession from here.
	OnLeave(p *Participant)

	// OnMessage receives every non-framework message.
	OnMessage(msg protocol.AppMessage, senderID string, phase Phase) []Response

	// OnSessionStart runs just before session_started is broadcast.
	OnSessionStart()

	// OnReset runs on the last play-again vote; its return value, when
	// non-nil, is embedded in session_reset as appData.
	OnReset() any
}

// Ticker is an optional App capability. When implemented, the runtime
// runs OnTick at TickInterval while the phase is playing; returned
// messages are broadcast to all connections, in order.
type Ticker interface {
	TickInterval() time.Duration
	OnTick(dt float64) []any
}

// EndChecker is an optional App capability consulted after every tick; a
// non-nil result ends the session with reason app_condition.
type EndChecker interface {
	CheckSessionEnd() *EndResult
}

// EndDataProvider is an optional App capability supplying the appData
// embedded in session_ended.
type EndDataProvider interface {
	SessionEndData() any
}

// RuntimeBinder is an optional App capability. When implemented, the
// runtime hands itself to the app at construction so hooks can call
// EndSession, Broadcast, and SendTo.
type RuntimeBinder interface {
	BindRuntime(r *Runtime)
}

// ActivityFilter is an optional App capability naming message kinds that
// do not count as activity for the inactivity watchdog, such as
// continuous hand-position streams.
type ActivityFilter interface {
	IgnoredActivityTypes() []string
}
