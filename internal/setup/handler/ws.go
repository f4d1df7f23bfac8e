package handler

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"latentsetup/internal/setup/service/session"
)

// SessionWSHandler streams snapshots of one session and acts as a map view
// for it: selection commands are pushed to the client as map_select and
// map_zoom messages.
type SessionWSHandler struct {
	sessions *session.Manager
}

func NewSessionWSHandler(sessions *session.Manager) *SessionWSHandler {
	return &SessionWSHandler{sessions: sessions}
}

const (
	sessionWSWriteWait = 10 * time.Second
	sessionWSPongWait  = 60 * time.Second
	sessionWSPingEvery = (sessionWSPongWait * 9) / 10
)

var sessionWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type sessionWSInbound struct {
	Type      string   `json:"type"`
	Indices   []int    `json:"indices,omitempty"`
	Layer     string   `json:"layer,omitempty"`
	Name      string   `json:"name,omitempty"`
	Dataset   string   `json:"dataset,omitempty"`
	Scope     string   `json:"scope,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

type mapSelectPayload struct {
	Indices []int `json:"indices"`
}

type mapZoomPayload struct {
	Transition bool  `json:"transition"`
	DurationMS int64 `json:"duration_ms"`
}

type sessionWSOutbound struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Select   *mapSelectPayload `json:"select,omitempty"`
	Zoom     *mapZoomPayload   `json:"zoom,omitempty"`
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// wsMapView forwards view commands to the socket writer.
type wsMapView struct {
	writeCh chan sessionWSOutbound
}

func (v wsMapView) Select(indices []int) error {
	pushSessionWS(v.writeCh, sessionWSOutbound{
		Type:   "map_select",
		Select: &mapSelectPayload{Indices: append([]int{}, indices...)},
	})
	return nil
}

func (v wsMapView) ZoomToOrigin(opts session.ZoomOptions) error {
	pushSessionWS(v.writeCh, sessionWSOutbound{
		Type: "map_zoom",
		Zoom: &mapZoomPayload{Transition: opts.Transition, DurationMS: opts.TransitionDuration.Milliseconds()},
	})
	return nil
}

func (h *SessionWSHandler) HandleSessionWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := sessionWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(sessionWSPongWait)); err != nil {
		log.Printf("session ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(sessionWSPongWait))
	})

	writeCh := make(chan sessionWSOutbound, 32)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(sessionWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(sessionWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	detach := c.AttachMapView(wsMapView{writeCh: writeCh})
	defer detach()

	updates := c.Subscribe(ctx)
	go func() {
		for snap := range updates {
			pushSessionWS(writeCh, sessionWSOutbound{Type: "snapshot", Snapshot: &snap})
		}
	}()

	fail := func(err error) {
		_, code := statusOf(err)
		pushSessionWS(writeCh, sessionWSOutbound{Type: "error", Code: code, Message: err.Error()})
	}

	for {
		var in sessionWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		msgType := strings.ToLower(strings.TrimSpace(in.Type))
		var opErr error
		switch msgType {
		case "":
			pushSessionWS(writeCh, sessionWSOutbound{Type: "error", Code: "invalid_argument", Message: "type is required"})
		case "ping":
			pushSessionWS(writeCh, sessionWSOutbound{Type: "pong"})
		case "map_selected":
			_, opErr = c.SetSelectedIndices(in.Indices)
		case "clear_selection":
			_, opErr = c.ClearSelection()
		case "select":
			layer, ok := session.ParseLayer(in.Layer)
			if !ok {
				pushSessionWS(writeCh, sessionWSOutbound{Type: "error", Code: "invalid_argument", Message: "unknown layer: " + in.Layer})
				continue
			}
			_, opErr = c.Select(layer, in.Name)
		case "navigate":
			if strings.TrimSpace(in.Dataset) == "" {
				_, opErr = c.NavigateScope(in.Scope)
			} else {
				_, opErr = c.Navigate(in.Dataset, in.Scope)
			}
		case "retry":
			resources := make([]session.Resource, 0, len(in.Resources))
			for _, raw := range in.Resources {
				if res, ok := session.ParseResource(raw); ok {
					resources = append(resources, res)
				}
			}
			_, opErr = c.Retry(resources...)
		default:
			pushSessionWS(writeCh, sessionWSOutbound{Type: "error", Code: "invalid_argument", Message: "unsupported type: " + msgType})
		}
		if opErr != nil {
			fail(opErr)
		}
	}
}

func pushSessionWS(writeCh chan sessionWSOutbound, out sessionWSOutbound) {
	if writeCh == nil {
		return
	}
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
