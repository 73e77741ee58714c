package room

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/MrAsnssr/OmaniGame-sub001/internal/domain"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/errors"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/event"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/telemetry"
)

const codeLength = 6

// codeAlphabet excludes 0/O and 1/I so codes survive being read out loud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Sink delivers one outbound event to one connection. The gateway implements
// it; rooms know players only by connection ID.
type Sink interface {
	Send(connID, event string, data any)
}

type Config struct {
	Sink     Sink
	EventBus *event.Bus

	MaxPlayers      int
	MinPlayers      int
	SelectionWindow time.Duration
	AdvanceDelay    time.Duration
}

// Registry owns the process-wide mapping from room code to live room. Its
// lifetime is explicit: created by the server, torn down with it.
type Registry struct {
	c Config

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry(c Config) *Registry {
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 10
	}
	if c.MinPlayers <= 0 {
		c.MinPlayers = 2
	}
	if c.SelectionWindow <= 0 {
		c.SelectionWindow = 15 * time.Second
	}
	if c.AdvanceDelay <= 0 {
		c.AdvanceDelay = 4 * time.Second
	}

	return &Registry{
		c:     c,
		rooms: make(map[string]*Room),
	}
}

// Create builds a room with the creator as sole player and host, registers it
// under a fresh code and starts its event loop.
func (g *Registry) Create(hostID, hostName string, settings domain.Settings, mode domain.GameMode) (*Room, error) {
	if !mode.Valid() {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown game mode %q", mode))
	}
	if hostName == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player name is required"))
	}

	g.mu.Lock()
	code := g.generateCodeLocked()
	r := newRoom(code, hostID, hostName, settings, mode, deps{
		sink:    g.c.Sink,
		eb:      g.c.EventBus,
		cfg:     g.c,
		now:     time.Now,
		after:   scheduleAfter,
		onEmpty: g.Destroy,
	})
	g.rooms[code] = r
	g.mu.Unlock()

	go r.run()

	telemetry.RoomsCreated.Inc()
	telemetry.RoomsActive.Inc()
	g.c.EventBus.Publish(context.Background(), domain.EventRoomCreated{Code: code, Mode: mode})
	slog.Info("room: created", "code", code, "mode", mode, "host", hostID)

	return r, nil
}

// Get looks a room up by code. Codes are normalized to uppercase.
func (g *Registry) Get(code string) (*Room, bool) {
	code = normalizeCode(code)

	g.mu.RLock()
	defer g.mu.RUnlock()

	r, ok := g.rooms[code]
	return r, ok
}

// Destroy stops a room's timers and event loop and removes it from the
// registry. Its code becomes available for reuse.
func (g *Registry) Destroy(code string) {
	code = normalizeCode(code)

	g.mu.Lock()
	r, ok := g.rooms[code]
	if ok {
		delete(g.rooms, code)
	}
	g.mu.Unlock()

	if !ok {
		return
	}

	r.stop()
	telemetry.RoomsActive.Dec()
	g.c.EventBus.Publish(context.Background(), domain.EventRoomClosed{Code: code})
	slog.Info("room: destroyed", "code", code)
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.rooms)
}

// GenerateCode returns a fresh code that does not collide with any live room.
func (g *Registry) GenerateCode() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.generateCodeLocked()
}

func (g *Registry) generateCodeLocked() string {
	for {
		b := make([]byte, codeLength)
		for i := range b {
			b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
		}
		code := string(b)
		if _, taken := g.rooms[code]; !taken {
			return code
		}
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// scheduleAfter is the production scheduler: a plain time.AfterFunc. Tests
// inject their own to drive timers deterministically.
func scheduleAfter(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, f)
	return t.Stop
}
