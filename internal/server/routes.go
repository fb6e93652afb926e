package server

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// SessionConfig is the bootstrap document the client fetches before
// opening its socket.
type SessionConfig struct {
	AppID     string `json:"appId"`
	SessionID string `json:"sessionId"`
	WSURL     string `json:"wsUrl"`
	LobbyURL  string `json:"lobbyUrl"`
}

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.websocketHandler)
	r.HandleFunc("/session.json", s.sessionConfigHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	if s.cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	return s.corsMiddleware(r)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if os.Getenv("ENVIRONMENT") == "production" {
			origin = s.cfg.LobbyURL
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// websocketHandler accepts one participant connection, offers it to the
// runtime for admission, and pumps inbound frames until the socket dies.
// The wrapper never interprets message contents; it only records the
// canonical kind with the watchdog.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	originPatterns := []string{"*"}
	if os.Getenv("ENVIRONMENT") == "production" {
		originPatterns = []string{s.cfg.LobbyURL}
	}

	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()
	conn := newWSConn(socket)

	// Connection ids outlive participant slots: they correlate log lines
	// across admission rejects and slot reuse after churn.
	connectionID := uuid.New().String()
	s.log.Info("new connection", "connection", connectionID)

	s.monitor.RecordConnect()

	participant := s.runtime.HandleConnection(conn)
	if participant == nil {
		// Admission rejected; the runtime already sent the error and
		// closed the connection.
		s.log.Info("connection rejected", "connection", connectionID)
		s.monitor.RecordDisconnect()
		return
	}

	defer func() {
		conn.markClosed()
		s.runtime.HandleDisconnection(conn)
		s.monitor.RecordDisconnect()
		s.log.Info("connection closed", "connection", connectionID)
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			s.log.Debug("connection read ended",
				"connection", connectionID, "participant", participant.ID, "error", err)
			return
		}
		if msgType != websocket.MessageText {
			s.log.Debug("dropping non-text frame", "connection", connectionID)
			continue
		}

		kind := s.runtime.HandleMessage(conn, data)
		if kind != "" {
			s.monitor.RecordActivity(kind)
		}
	}
}

func (s *Server) sessionConfigHandler(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}

	doc := SessionConfig{
		AppID:     s.cfg.AppID,
		SessionID: s.cfg.SessionID,
		WSURL:     scheme + "://" + r.Host + "/ws",
		LobbyURL:  s.cfg.LobbyURL,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.log.Error("failed to write session config", "error", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{
		"status":    "ok",
		"sessionId": s.cfg.SessionID,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to write health response", "error", err)
	}
}
