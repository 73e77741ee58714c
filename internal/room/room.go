package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/MrAsnssr/OmaniGame-sub001/internal/domain"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/errors"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/event"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/quiz"
)

// deps are the room's injected collaborators. Production rooms get real time
// and time.AfterFunc; tests swap now/after to drive timers deterministically.
type deps struct {
	sink    Sink
	eb      *event.Bus
	cfg     Config
	now     func() time.Time
	after   func(d time.Duration, f func()) func() bool
	onEmpty func(code string)
}

type playerState struct {
	id        string
	name      string
	score     int
	connected bool
}

type answerRecord struct {
	answer json.RawMessage
	taken  float64 // seconds since the question opened
	at     time.Time
}

// Timer slots. Each armed timer carries the slot's sequence number at arming
// time; a fire whose sequence no longer matches is stale and dropped. Every
// transition out of the phase that armed a slot cancels it.
type timerSlot int

const (
	slotAnswer timerSlot = iota
	slotSelection
	slotAdvance
	slotCount
)

type pendingTimer struct {
	seq  uint64
	stop func() bool
}

type command interface{ isCommand() }

type cmdJoin struct {
	id, name string
	reply    chan error
}

type cmdStart struct {
	from      string
	questions []json.RawMessage
}

type cmdSelectCategory struct{ from, categoryID string }
type cmdSelectType struct{ from, typeID string }

type cmdAnswer struct {
	from   string
	answer json.RawMessage
	final  bool
}

type cmdTimeUp struct{ from string }
type cmdLeave struct{ from string }
type cmdDisconnect struct{ from string }
type cmdRestart struct{ from string }

type cmdTimerFired struct {
	slot timerSlot
	seq  uint64
}

func (cmdJoin) isCommand()           {}
func (cmdStart) isCommand()          {}
func (cmdSelectCategory) isCommand() {}
func (cmdSelectType) isCommand()     {}
func (cmdAnswer) isCommand()         {}
func (cmdTimeUp) isCommand()         {}
func (cmdLeave) isCommand()          {}
func (cmdDisconnect) isCommand()     {}
func (cmdRestart) isCommand()        {}
func (cmdTimerFired) isCommand()     {}

// Room is one live game. All state below the inbox is owned by the room's
// event loop: commands are handled strictly one at a time, so no field needs
// locking. Different rooms run their loops independently.
type Room struct {
	code     string
	mode     domain.GameMode
	settings domain.Settings
	d        deps

	inbox    chan command
	done     chan struct{}
	stopOnce sync.Once

	hostID  string
	players []*playerState
	phase   domain.Phase

	allQuestions  []quiz.Question // turn-based draw pool
	questions     []quiz.Question // questions actually played, in order
	current       int
	answers       map[string]answerRecord
	drafts        map[string]answerRecord
	questionStart time.Time

	turn               int
	categorySelectorID string
	typeSelectorID     string
	currentCategory    string
	currentType        string
	turnCategoryIDs    []string
	uniqueCategoryIDs  []string

	timers [slotCount]pendingTimer
}

func newRoom(code, hostID, hostName string, settings domain.Settings, mode domain.GameMode, d deps) *Room {
	if settings.TimePerQuestion <= 0 {
		settings.TimePerQuestion = 30
	}
	r := &Room{
		code:     code,
		mode:     mode,
		settings: settings,
		d:        d,
		inbox:    make(chan command, 64),
		done:     make(chan struct{}),
		hostID:   hostID,
		phase:    domain.PhaseWaiting,
		answers:  make(map[string]answerRecord),
		drafts:   make(map[string]answerRecord),
	}
	r.players = append(r.players, &playerState{id: hostID, name: hostName, connected: true})
	return r
}

func (r *Room) Code() string { return r.code }

// run is the room's event loop. It first confirms creation to the host, then
// drains commands until the room is stopped.
func (r *Room) run() {
	r.d.sink.Send(r.hostID, EvtRoomCreated, map[string]any{
		"roomCode": r.code,
		"playerId": r.hostID,
		"gameMode": r.mode,
		"settings": r.settings,
		"players":  r.playersSnapshot(),
	})

	for {
		select {
		case c := <-r.inbox:
			r.handle(c)
		case <-r.done:
			r.cancelAllTimers()
			return
		}
	}
}

func (r *Room) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Room) handle(c command) {
	switch c := c.(type) {
	case cmdJoin:
		r.handleJoin(c)
	case cmdStart:
		r.handleStart(c.from, c.questions)
	case cmdSelectCategory:
		r.handleSelectCategory(c.from, c.categoryID)
	case cmdSelectType:
		r.handleSelectType(c.from, c.typeID)
	case cmdAnswer:
		r.handleAnswer(c.from, c.answer, c.final)
	case cmdTimeUp:
		r.handleTimeUp(c.from)
	case cmdLeave:
		r.handleLeave(c.from)
	case cmdDisconnect:
		r.handleDisconnect(c.from)
	case cmdRestart:
		r.handleRestart(c.from)
	case cmdTimerFired:
		r.handleTimerFired(c.slot, c.seq)
	}
}

func (r *Room) post(c command) {
	select {
	case r.inbox <- c:
	case <-r.done:
	}
}

// Join adds a connection to the room and waits for the verdict. It is the only
// synchronous entry point: the gateway must know whether to bind the
// connection before routing further events.
func (r *Room) Join(ctx context.Context, connID, name string) error {
	c := cmdJoin{id: connID, name: name, reply: make(chan error, 1)}

	select {
	case r.inbox <- c:
	case <-r.done:
		return errors.New(errors.CodeNotFound, errors.WithMessagef("room %s no longer exists", r.code))
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-c.reply:
		return err
	case <-r.done:
		return errors.New(errors.CodeNotFound, errors.WithMessagef("room %s no longer exists", r.code))
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) Start(from string, questions []json.RawMessage) {
	r.post(cmdStart{from: from, questions: questions})
}

func (r *Room) SelectCategory(from, categoryID string) {
	r.post(cmdSelectCategory{from: from, categoryID: categoryID})
}

func (r *Room) SelectType(from, typeID string) {
	r.post(cmdSelectType{from: from, typeID: typeID})
}

// SubmitAnswer records a final answer; accepted once per connection per
// question.
func (r *Room) SubmitAnswer(from string, answer json.RawMessage) {
	r.post(cmdAnswer{from: from, answer: answer, final: true})
}

// UpdateDraft records a non-final answer snapshot, recoverable at timeout.
func (r *Room) UpdateDraft(from string, answer json.RawMessage) {
	r.post(cmdAnswer{from: from, answer: answer, final: false})
}

func (r *Room) TimeUp(from string)     { r.post(cmdTimeUp{from: from}) }
func (r *Room) Leave(from string)      { r.post(cmdLeave{from: from}) }
func (r *Room) Disconnect(from string) { r.post(cmdDisconnect{from: from}) }
func (r *Room) Restart(from string)    { r.post(cmdRestart{from: from}) }

// ---- roster ----

func (r *Room) handleJoin(c cmdJoin) {
	if r.phase != domain.PhaseWaiting {
		c.reply <- errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("room %s already started", r.code))
		return
	}
	if len(r.players) >= r.d.cfg.MaxPlayers {
		c.reply <- errors.New(errors.CodeResourceExhausted,
			errors.WithMessagef("room %s is full", r.code))
		return
	}
	if c.name == "" {
		c.reply <- errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("player name is required"))
		return
	}

	p := &playerState{id: c.id, name: c.name, connected: true}
	r.players = append(r.players, p)
	c.reply <- nil

	r.d.sink.Send(c.id, EvtRoomJoined, map[string]any{
		"roomCode": r.code,
		"playerId": c.id,
		"gameMode": r.mode,
		"settings": r.settings,
		"players":  r.playersSnapshot(),
	})
	r.broadcastExcept(c.id, EvtPlayerJoined, map[string]any{
		"player":  r.snapshotOf(p),
		"players": r.playersSnapshot(),
	})

	slog.Info("room: player joined", "code", r.code, "player", c.id, "name", c.name)
}

func (r *Room) handleLeave(from string) {
	p := r.find(from)
	if p == nil {
		return
	}

	for i, q := range r.players {
		if q.id == from {
			r.players = append(r.players[:i], r.players[i+1:]...)
			break
		}
	}
	delete(r.answers, from)
	delete(r.drafts, from)

	slog.Info("room: player left", "code", r.code, "player", from)

	if len(r.players) == 0 || r.connectedCount() == 0 {
		r.d.onEmpty(r.code)
		return
	}

	r.broadcast(EvtPlayerLeft, map[string]any{
		"playerId": from,
		"name":     p.name,
		"reason":   "left",
		"players":  r.playersSnapshot(),
	})

	if from == r.hostID {
		r.promoteNewHost()
	}

	r.maybeEndEarly()
}

// handleDisconnect flags the player in place rather than removing them, so
// final scores stay attributable. An unanswered round can complete here: the
// all-answered check only counts connected players.
func (r *Room) handleDisconnect(from string) {
	p := r.find(from)
	if p == nil || !p.connected {
		return
	}
	p.connected = false

	slog.Info("room: player disconnected", "code", r.code, "player", from)

	if r.connectedCount() == 0 {
		r.d.onEmpty(r.code)
		return
	}

	r.broadcast(EvtPlayerLeft, map[string]any{
		"playerId": from,
		"name":     p.name,
		"reason":   "disconnected",
		"players":  r.playersSnapshot(),
	})

	if from == r.hostID {
		r.promoteNewHost()
	}

	r.maybeEndEarly()
}

func (r *Room) promoteNewHost() {
	for _, p := range r.players {
		if p.connected {
			r.hostID = p.id
			r.broadcast(EvtNewHost, map[string]any{
				"playerId": p.id,
				"name":     p.name,
			})
			slog.Info("room: host migrated", "code", r.code, "host", p.id)
			return
		}
	}
}

// maybeEndEarly closes the round when a roster change leaves every remaining
// connected player with a final answer.
func (r *Room) maybeEndEarly() {
	if r.phase == domain.PhasePlaying && r.connectedCount() > 0 && r.allConnectedAnswered() {
		r.endRound()
	}
}

func (r *Room) handleRestart(from string) {
	if from != r.hostID {
		return // unauthorized: silently ignored
	}

	r.cancelAllTimers()
	r.phase = domain.PhaseWaiting
	r.allQuestions = nil
	r.questions = nil
	r.current = 0
	r.answers = make(map[string]answerRecord)
	r.drafts = make(map[string]answerRecord)
	r.questionStart = time.Time{}
	r.turn = 0
	r.categorySelectorID = ""
	r.typeSelectorID = ""
	r.currentCategory = ""
	r.currentType = ""
	r.turnCategoryIDs = nil
	r.uniqueCategoryIDs = nil

	now := r.d.now()
	for _, p := range r.players {
		p.score = 0
		r.publishScore(p, now)
	}

	r.broadcast(EvtGameRestarted, map[string]any{
		"players": r.playersSnapshot(),
	})
	slog.Info("room: game restarted", "code", r.code)
}

// ---- timers ----

func (r *Room) arm(slot timerSlot, d time.Duration) {
	t := &r.timers[slot]
	if t.stop != nil {
		t.stop()
	}
	t.seq++
	seq := t.seq
	t.stop = r.d.after(d, func() {
		r.post(cmdTimerFired{slot: slot, seq: seq})
	})
}

func (r *Room) cancelTimer(slot timerSlot) {
	t := &r.timers[slot]
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
	t.seq++
}

func (r *Room) cancelAllTimers() {
	for s := timerSlot(0); s < slotCount; s++ {
		r.cancelTimer(s)
	}
}

func (r *Room) handleTimerFired(slot timerSlot, seq uint64) {
	if seq != r.timers[slot].seq {
		return // stale: the arming transition has been superseded
	}
	r.timers[slot].stop = nil

	switch slot {
	case slotAnswer:
		if r.phase == domain.PhasePlaying {
			r.endRound()
		}
	case slotSelection:
		switch r.phase {
		case domain.PhaseSelectingCategory:
			r.autoSelectCategory()
		case domain.PhaseSelectingType:
			r.autoSelectType()
		}
	case slotAdvance:
		// Re-validate: a restart during the delay wins the race.
		if r.phase == domain.PhaseShowingLeaderboard {
			r.advance()
		}
	}
}

// ---- helpers ----

func (r *Room) find(id string) *playerState {
	for _, p := range r.players {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (r *Room) connectedCount() int {
	n := 0
	for _, p := range r.players {
		if p.connected {
			n++
		}
	}
	return n
}

func (r *Room) connectedPlayers() []*playerState {
	out := make([]*playerState, 0, len(r.players))
	for _, p := range r.players {
		if p.connected {
			out = append(out, p)
		}
	}
	return out
}

func (r *Room) allConnectedAnswered() bool {
	for _, p := range r.players {
		if !p.connected {
			continue
		}
		if _, ok := r.answers[p.id]; !ok {
			return false
		}
	}
	return true
}

func (r *Room) snapshotOf(p *playerState) domain.Player {
	return domain.Player{
		ID:        p.id,
		Name:      p.name,
		Score:     p.score,
		IsHost:    p.id == r.hostID,
		Connected: p.connected,
	}
}

func (r *Room) playersSnapshot() []domain.Player {
	out := make([]domain.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, r.snapshotOf(p))
	}
	return out
}

func (r *Room) broadcast(event string, data any) {
	for _, p := range r.players {
		if p.connected {
			r.d.sink.Send(p.id, event, data)
		}
	}
}

func (r *Room) broadcastExcept(except string, event string, data any) {
	for _, p := range r.players {
		if p.connected && p.id != except {
			r.d.sink.Send(p.id, event, data)
		}
	}
}

func (r *Room) publishScore(p *playerState, at time.Time) {
	r.d.eb.Publish(context.Background(), domain.EventScoreUpdated{
		Score: domain.Score{
			RoomCode:   r.code,
			PlayerID:   p.id,
			PlayerName: p.name,
			Total:      p.score,
			UpdateTime: at,
		},
	})
}
