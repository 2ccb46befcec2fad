package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"trivia-host/internal/app"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// watcher forwards one controller's snapshots into a connection's send queue.
// When the controller releases its subscribers an "ended" message follows.
type watcher struct {
	ctrl   *app.Controller
	cancel func()
	quit   chan struct{}
	done   chan struct{}
}

func watch(ctrl *app.Controller, send chan<- outboundMessage[any]) *watcher {
	updates, cancel := ctrl.Subscribe()
	w := &watcher{ctrl: ctrl, cancel: cancel, quit: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					select {
					case send <- outboundMessage[any]{Type: "ended", Payload: struct{}{}}:
					case <-w.quit:
					}
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "snapshot", Payload: snap}:
				case <-w.quit:
					return
				}
			case <-w.quit:
				return
			}
		}
	}()
	return w
}

func (w *watcher) stop() {
	close(w.quit)
	<-w.done
	w.cancel()
}

// startWriter owns all writes to conn. After a write error it keeps draining
// so producers never block on a dead connection.
func startWriter(conn *websocket.Conn) (chan outboundMessage[any], <-chan struct{}) {
	send := make(chan outboundMessage[any], 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		failed := false
		for msg := range send {
			if failed {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("ws write failed", "error", err)
				failed = true
			}
		}
	}()
	return send, done
}

func errorMessage(err error) outboundMessage[any] {
	_, payload := classify(err)
	return outboundMessage[any]{Type: "error", Payload: payload}
}

// ServeHost is the host control channel. Snapshots of the host's current
// session are pushed as they change; commands arrive as typed messages.
func (h *Handler) ServeHost(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		http.Error(w, "missing owner", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send, writerDone := startWriter(conn)
	var current *watcher
	// attach follows ctrl unless it is already followed; a session started
	// elsewhere is picked up on the next command.
	attach := func(ctrl *app.Controller) {
		if current != nil {
			if current.ctrl == ctrl {
				return
			}
			current.stop()
		}
		current = watch(ctrl, send)
	}

	if ctrl, err := h.service.Session(owner); err == nil {
		attach(ctrl)
	} else {
		send <- outboundMessage[any]{Type: "idle", Payload: struct{}{}}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			var req startRequest
			if err := json.Unmarshal(inbound.Payload, &req); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid start payload"}}
				continue
			}
			ctrl, err := h.service.StartSession(r.Context(), owner, req.SessionConfig, req.Teams)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			attach(ctrl)
		case "abandon":
			h.service.Abandon(owner)
			send <- outboundMessage[any]{Type: "idle", Payload: struct{}{}}
		case "submitScores":
			var req scoresRequest
			if err := json.Unmarshal(inbound.Payload, &req); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "bad_request", Message: "invalid scores payload"}}
				continue
			}
			ctrl, err := h.service.Session(owner)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			attach(ctrl)
			standings, err := ctrl.Submit(scoreStrings(req.Scores))
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			send <- outboundMessage[any]{Type: "standings", Payload: standings}
		case "resync":
			ctrl, err := h.service.Session(owner)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			attach(ctrl)
		default:
			ctrl, err := h.service.Session(owner)
			if err != nil {
				send <- errorMessage(err)
				continue
			}
			attach(ctrl)
			if err := applyAction(ctrl, inbound.Type); err != nil {
				send <- errorMessage(err)
			}
		}
	}

	if current != nil {
		current.stop()
	}
	close(send)
	<-writerDone
}

// ServeObserver streams read-only snapshots of the host's session. A finished
// session keeps showing its final standings; the connection closes when the
// session is abandoned or replaced.
func (h *Handler) ServeObserver(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		http.Error(w, "missing owner", http.StatusBadRequest)
		return
	}
	ctrl, err := h.service.Session(owner)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send, writerDone := startWriter(conn)
	current := watch(ctrl, send)

	// Observers never send commands; reading only detects the close.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	select {
	case <-current.done:
	case <-readerDone:
	}
	current.stop()
	close(send)
	<-writerDone
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), time.Now().Add(time.Second))
}
