package session

import (
	"time"

	"gestures-server/internal/protocol"
)

// startTick launches the tick loop when the app implements Ticker. Called
// with the runtime lock held, on entering the playing phase.
func (r *Runtime) startTick() {
	ticker, ok := r.app.(Ticker)
	if !ok || r.tickStop != nil {
		return
	}

	stop := make(chan struct{})
	r.tickStop = stop
	r.lastTick = r.now()

	go r.tickLoop(ticker, stop)
}

// stopTick cancels the loop. An in-flight tick completes; no new tick is
// scheduled. Called with the runtime lock held.
func (r *Runtime) stopTick() {
	if r.tickStop != nil {
		close(r.tickStop)
		r.tickStop = nil
	}
}

func (r *Runtime) tickLoop(ticker Ticker, stop chan struct{}) {
	t := time.NewTicker(ticker.TickInterval())
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !r.tickOnce(ticker, stop) {
				return
			}
		}
	}
}

// tickOnce runs one tick turn under the dispatch lock. Returns false when
// the loop has been superseded or the phase left playing.
func (r *Runtime) tickOnce(ticker Ticker, stop chan struct{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A concurrent EndSession or Stop may have won the race to the lock.
	if r.tickStop != stop || r.phase != PhasePlaying {
		return false
	}

	now := r.now()
	dt := now.Sub(r.lastTick).Seconds()
	r.lastTick = now

	var msgs []any
	r.safely("OnTick", func() { msgs = ticker.OnTick(dt) })
	for _, msg := range msgs {
		for conn := range r.conns {
			r.send(conn, msg)
		}
	}

	if checker, ok := r.app.(EndChecker); ok {
		var result *EndResult
		r.safely("CheckSessionEnd", func() { result = checker.CheckSessionEnd() })
		if result != nil {
			r.EndSession(result.WinnerID, result.WinnerNumber, protocol.ReasonAppCondition)
			return false
		}
	}

	return true
}
