package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MrAsnssr/OmaniGame-sub001/internal/domain"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/errors"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/room"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/telemetry"
)

// Inbound event names.
const (
	evtCreateRoom     = "create-room"
	evtJoinRoom       = "join-room"
	evtStartGame      = "start-game"
	evtSelectCategory = "select-category"
	evtSelectType     = "select-type"
	evtSubmitAnswer   = "submit-answer"
	evtAnswerUpdate   = "answer-update"
	evtTimeUp         = "time-up"
	evtLeaveRoom      = "leave-room"
	evtRestartGame    = "restart-game"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type Config struct {
	Hub   *Hub
	Rooms *room.Registry
}

// Gateway owns the websocket endpoint: it upgrades connections, parses
// inbound frames and routes them to the registry or to the room the
// connection is bound to. A connection is bound to at most one room at a
// time, from create/join until leave or disconnect.
type Gateway struct {
	hub   *Hub
	rooms *room.Registry

	mu    sync.Mutex
	bound map[string]*room.Room
}

func New(c Config) *Gateway {
	return &Gateway{
		hub:   c.Hub,
		rooms: c.Rooms,
		bound: make(map[string]*room.Room),
	}
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handle serves one websocket connection until the client goes away.
func (g *Gateway) Handle(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("gateway: upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	g.hub.Add(connID, ws)
	telemetry.ConnectionsActive.Inc()
	slog.Info("gateway: connected", "conn", connID, "remote", c.Request.RemoteAddr)

	defer func() {
		if r := g.unbind(connID); r != nil {
			r.Disconnect(connID)
		}
		g.hub.Remove(connID)
		telemetry.ConnectionsActive.Dec()
		slog.Info("gateway: disconnected", "conn", connID)
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var in inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			slog.Debug("gateway: bad frame", "conn", connID, "error", err)
			continue
		}

		telemetry.EventsReceived.WithLabelValues(in.Event).Inc()
		g.route(c, connID, in)
	}
}

func (g *Gateway) route(c *gin.Context, connID string, in inbound) {
	switch in.Event {
	case evtCreateRoom:
		g.createRoom(connID, in.Data)
	case evtJoinRoom:
		g.joinRoom(c, connID, in.Data)
	case evtStartGame:
		var p struct {
			Questions []json.RawMessage `json:"questions"`
		}
		g.toBound(connID, in.Data, &p, func(r *room.Room) { r.Start(connID, p.Questions) })
	case evtSelectCategory:
		var p struct {
			CategoryID string `json:"categoryId"`
		}
		g.toBound(connID, in.Data, &p, func(r *room.Room) { r.SelectCategory(connID, p.CategoryID) })
	case evtSelectType:
		var p struct {
			TypeID string `json:"typeId"`
		}
		g.toBound(connID, in.Data, &p, func(r *room.Room) { r.SelectType(connID, p.TypeID) })
	case evtSubmitAnswer:
		var p struct {
			Answer json.RawMessage `json:"answer"`
		}
		g.toBound(connID, in.Data, &p, func(r *room.Room) { r.SubmitAnswer(connID, p.Answer) })
	case evtAnswerUpdate:
		var p struct {
			Answer json.RawMessage `json:"answer"`
		}
		g.toBound(connID, in.Data, &p, func(r *room.Room) { r.UpdateDraft(connID, p.Answer) })
	case evtTimeUp:
		g.toBound(connID, nil, nil, func(r *room.Room) { r.TimeUp(connID) })
	case evtLeaveRoom:
		if r := g.unbind(connID); r != nil {
			r.Leave(connID)
		}
	case evtRestartGame:
		g.toBound(connID, nil, nil, func(r *room.Room) { r.Restart(connID) })
	default:
		slog.Debug("gateway: unknown event", "conn", connID, "event", in.Event)
	}
}

func (g *Gateway) createRoom(connID string, data json.RawMessage) {
	var p struct {
		PlayerName string          `json:"playerName"`
		GameMode   domain.GameMode `json:"gameMode"`
		Settings   domain.Settings `json:"settings"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		g.sendError(connID, room.EvtJoinError, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed create-room payload")))
		return
	}

	r, err := g.rooms.Create(connID, p.PlayerName, p.Settings, p.GameMode)
	if err != nil {
		g.sendError(connID, room.EvtJoinError, err)
		return
	}

	g.bind(connID, r)
}

func (g *Gateway) joinRoom(c *gin.Context, connID string, data json.RawMessage) {
	var p struct {
		RoomCode   string `json:"roomCode"`
		PlayerName string `json:"playerName"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		g.sendError(connID, room.EvtJoinError, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed join-room payload")))
		return
	}

	r, ok := g.rooms.Get(p.RoomCode)
	if !ok {
		g.sendError(connID, room.EvtJoinError, errors.New(errors.CodeNotFound,
			errors.WithMessagef("room %s not found", p.RoomCode)))
		return
	}

	if err := r.Join(c.Request.Context(), connID, p.PlayerName); err != nil {
		g.sendError(connID, room.EvtJoinError, err)
		return
	}

	g.bind(connID, r)
}

// toBound decodes the payload (when p is non-nil) and runs fn against the
// room the connection is bound to. Events from unbound connections are
// dropped.
func (g *Gateway) toBound(connID string, data json.RawMessage, p any, fn func(*room.Room)) {
	if p != nil && len(data) > 0 {
		if err := json.Unmarshal(data, p); err != nil {
			slog.Debug("gateway: bad payload", "conn", connID, "error", err)
			return
		}
	}

	g.mu.Lock()
	r := g.bound[connID]
	g.mu.Unlock()

	if r == nil {
		slog.Debug("gateway: event from unbound connection", "conn", connID)
		return
	}
	fn(r)
}

func (g *Gateway) bind(connID string, r *room.Room) {
	g.mu.Lock()
	g.bound[connID] = r
	g.mu.Unlock()
}

func (g *Gateway) unbind(connID string) *room.Room {
	g.mu.Lock()
	r := g.bound[connID]
	delete(g.bound, connID)
	g.mu.Unlock()

	return r
}

func (g *Gateway) sendError(connID, event string, err error) {
	e := errors.Convert(err)
	g.hub.Send(connID, event, map[string]any{"message": e.Message})
}
