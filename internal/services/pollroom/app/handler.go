package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/websocket"
)

// NewHandler creates poll room routes backed by a fresh room. Used by tests
// and offline paths.
func NewHandler() http.Handler {
	return newHandler(newRoom(roomConfig{}))
}

func newHandler(rm *room) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, rm)
	})
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	api := &restAPI{room: rm}
	r.Route("/api", func(r chi.Router) {
		r.Get("/polls", api.listPolls)
		r.Get("/polls/{pollID}", api.getPoll)
		r.Get("/current-poll", api.currentPoll)
		r.Get("/participants", api.listParticipants)
		r.Get("/chat-messages", api.listChatMessages)
		r.Post("/end-poll", api.endPoll)
		r.Post("/participants/{participantID}/kick", api.kickParticipant)
	})
	return r
}
