package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrAsnssr/OmaniGame-sub001/internal/domain"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/errors"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/event"
)

type frame struct {
	conn  string
	event string
	data  map[string]any
}

type fakeSink struct {
	mu     sync.Mutex
	frames []frame
}

func (s *fakeSink) Send(connID, event string, data any) {
	// Round-trip through JSON so assertions see the wire shape.
	b, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)

	s.mu.Lock()
	s.frames = append(s.frames, frame{conn: connID, event: event, data: m})
	s.mu.Unlock()
}

func (s *fakeSink) all(event string) []frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []frame
	for _, f := range s.frames {
		if f.event == event {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeSink) last(event string) (frame, bool) {
	fs := s.all(event)
	if len(fs) == 0 {
		return frame{}, false
	}
	return fs[len(fs)-1], true
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) after(d time.Duration, f func()) func() bool {
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return func() bool {
		was := t.stopped
		t.stopped = true
		return !was
	}
}

// fireLatest runs the most recently armed live timer's callback.
func (s *fakeScheduler) fireLatest(t *testing.T) {
	t.Helper()
	for i := len(s.timers) - 1; i >= 0; i-- {
		if !s.timers[i].stopped {
			s.timers[i].stopped = true
			s.timers[i].f()
			return
		}
	}
	t.Fatal("no live timer to fire")
}

func (s *fakeScheduler) liveCount() int {
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// harness drives a room synchronously: commands are handled inline and the
// inbox is drained after every step, so no event loop goroutine runs.
type harness struct {
	t         *testing.T
	r         *Room
	sink      *fakeSink
	sched     *fakeScheduler
	now       time.Time
	destroyed []string
}

func newHarness(t *testing.T, mode domain.GameMode, settings domain.Settings) *harness {
	h := &harness{
		t:     t,
		sink:  &fakeSink{},
		sched: &fakeScheduler{},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	h.r = newRoom("ABC234", "host", "amal", settings, mode, deps{
		sink:    h.sink,
		eb:      event.NewBus(),
		cfg:     Config{MaxPlayers: 10, MinPlayers: 2, SelectionWindow: 15 * time.Second, AdvanceDelay: 4 * time.Second},
		now:     func() time.Time { return h.now },
		after:   h.sched.after,
		onEmpty: func(code string) { h.destroyed = append(h.destroyed, code) },
	})
	return h
}

func (h *harness) drain() {
	for {
		select {
		case c := <-h.r.inbox:
			h.r.handle(c)
		default:
			return
		}
	}
}

func (h *harness) do(c command) {
	h.r.handle(c)
	h.drain()
}

func (h *harness) join(id, name string) error {
	c := cmdJoin{id: id, name: name, reply: make(chan error, 1)}
	h.do(c)
	return <-c.reply
}

func (h *harness) elapse(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) fire() {
	h.sched.fireLatest(h.t)
	h.drain()
}

func mcQuestion(t *testing.T, id, category, answer string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id": id, "type": "multiple-choice", "categoryId": category,
		"prompt": "?", "options": []string{answer, "other"}, "answer": answer,
	})
	require.NoError(t, err)
	return b
}

func answer(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func standardSettings(n int) domain.Settings {
	return domain.Settings{QuestionCount: n, TimePerQuestion: 30}
}

func TestRoom_Join(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))

	require.NoError(t, h.join("p2", "badr"))

	joined, ok := h.sink.last(EvtRoomJoined)
	require.True(t, ok)
	assert.Equal(t, "p2", joined.conn)
	assert.Equal(t, "ABC234", joined.data["roomCode"])

	announced, ok := h.sink.last(EvtPlayerJoined)
	require.True(t, ok)
	assert.Equal(t, "host", announced.conn, "existing players get the announcement, not the joiner")

	t.Run("empty name rejected", func(t *testing.T) {
		err := h.join("p3", "")
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
	})

	t.Run("full room rejected", func(t *testing.T) {
		for i := 0; i < 8; i++ {
			require.NoError(t, h.join(string(rune('a'+i)), "filler"))
		}
		err := h.join("p99", "late")
		require.Error(t, err)
		assert.Equal(t, errors.CodeResourceExhausted, errors.Convert(err).Code)
	})
}

func TestRoom_JoinAfterStartRejected(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})
	require.Equal(t, domain.PhasePlaying, h.r.phase)

	err := h.join("p3", "late")
	require.Error(t, err)
	assert.Equal(t, errors.CodeFailedPrecondition, errors.Convert(err).Code)
}

func TestRoom_StartValidation(t *testing.T) {
	qs := []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}

	t.Run("non-host cannot start", func(t *testing.T) {
		h := newHarness(t, domain.ModeStandard, standardSettings(1))
		require.NoError(t, h.join("p2", "badr"))

		h.do(cmdStart{from: "p2", questions: qs})

		f, ok := h.sink.last(EvtStartError)
		require.True(t, ok)
		assert.Equal(t, "p2", f.conn)
		assert.Equal(t, domain.PhaseWaiting, h.r.phase)
	})

	t.Run("too few players", func(t *testing.T) {
		h := newHarness(t, domain.ModeStandard, standardSettings(1))

		h.do(cmdStart{from: "host", questions: qs})

		_, ok := h.sink.last(EvtStartError)
		require.True(t, ok)
		assert.Equal(t, domain.PhaseWaiting, h.r.phase)
	})

	t.Run("empty question pool", func(t *testing.T) {
		h := newHarness(t, domain.ModeStandard, domain.Settings{
			QuestionCount: 1, TimePerQuestion: 30, SelectedTopicIDs: []string{"history"},
		})
		require.NoError(t, h.join("p2", "badr"))

		h.do(cmdStart{from: "host", questions: qs}) // only geo questions supplied

		_, ok := h.sink.last(EvtStartError)
		require.True(t, ok)
	})

	t.Run("turn-based needs question count", func(t *testing.T) {
		h := newHarness(t, domain.ModeTurnBased, domain.Settings{TimePerQuestion: 30})
		require.NoError(t, h.join("p2", "badr"))

		h.do(cmdStart{from: "host", questions: qs})

		_, ok := h.sink.last(EvtStartError)
		require.True(t, ok)
	})
}

func TestRoom_StandardRound(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})

	started := h.sink.all(EvtGameStarted)
	require.Len(t, started, 2, "both players get the opening event")
	q := started[0].data["question"].(map[string]any)
	assert.Equal(t, "q1", q["id"])
	assert.NotContains(t, q, "answer", "the solution never rides along with the question")

	h.elapse(5 * time.Second)
	h.do(cmdAnswer{from: "host", answer: answer(t, "Muscat"), final: true})

	pa, ok := h.sink.last(EvtPlayerAnswered)
	require.True(t, ok)
	assert.Equal(t, float64(1), pa.data["answeredCount"])

	h.elapse(10 * time.Second)
	h.do(cmdAnswer{from: "p2", answer: answer(t, "other"), final: true})

	// Everyone answered: the round ends without the timer firing.
	results, ok := h.sink.last(EvtRoundResults)
	require.True(t, ok)
	assert.Equal(t, "Muscat", results.data["correctAnswer"])

	rs := results.data["results"].([]any)
	require.Len(t, rs, 2)
	first := rs[0].(map[string]any)
	second := rs[1].(map[string]any)

	assert.Equal(t, "host", first["playerId"])
	assert.Equal(t, float64(183), first["points"], "5s of 30s keeps 83 of the speed bonus")
	assert.Equal(t, float64(1), first["rank"])
	assert.Equal(t, "p2", second["playerId"])
	assert.Equal(t, float64(0), second["points"])
	assert.Equal(t, float64(2), second["rank"])

	// Single-question game: straight to game over, no leaderboard pause.
	over, ok := h.sink.last(EvtGameOver)
	require.True(t, ok)
	winner := over.data["winner"].(map[string]any)
	assert.Equal(t, "amal", winner["name"])
	assert.Equal(t, domain.PhaseFinished, h.r.phase)
}

func TestRoom_TiedScoresGetConsecutiveRanks(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))
	require.NoError(t, h.join("p3", "dana"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})

	h.elapse(10 * time.Second)
	h.do(cmdAnswer{from: "host", answer: answer(t, "Muscat"), final: true})
	h.do(cmdAnswer{from: "p2", answer: answer(t, "Muscat"), final: true})
	h.do(cmdAnswer{from: "p3", answer: answer(t, "other"), final: true})

	results, ok := h.sink.last(EvtRoundResults)
	require.True(t, ok)
	rs := results.data["results"].([]any)
	require.Len(t, rs, 3)

	assert.Equal(t, float64(1), rs[0].(map[string]any)["rank"])
	assert.Equal(t, float64(2), rs[1].(map[string]any)["rank"], "tied totals still take the next position")
	assert.Equal(t, float64(3), rs[2].(map[string]any)["rank"])

	assert.Equal(t, "host", rs[0].(map[string]any)["playerId"], "stable sort keeps tied players in roster order")
	assert.Equal(t, "p2", rs[1].(map[string]any)["playerId"])
}

func TestRoom_SecondFinalAnswerIgnored(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})

	h.do(cmdAnswer{from: "host", answer: answer(t, "other"), final: true})
	h.do(cmdAnswer{from: "host", answer: answer(t, "Muscat"), final: true}) // too late to change

	h.do(cmdAnswer{from: "p2", answer: answer(t, "other"), final: true})

	results, ok := h.sink.last(EvtRoundResults)
	require.True(t, ok)
	for _, v := range results.data["results"].([]any) {
		r := v.(map[string]any)
		if r["playerId"] == "host" {
			assert.Equal(t, false, r["isCorrect"], "first submission stands")
		}
	}
}

func TestRoom_TimeoutPromotesDraft(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})

	h.do(cmdAnswer{from: "host", answer: answer(t, "other"), final: true})
	h.elapse(12 * time.Second)
	h.do(cmdAnswer{from: "p2", answer: answer(t, "Muscat"), final: false})

	h.elapse(18 * time.Second)
	h.fire() // answer deadline

	results, ok := h.sink.last(EvtRoundResults)
	require.True(t, ok)
	for _, v := range results.data["results"].([]any) {
		r := v.(map[string]any)
		if r["playerId"] == "p2" {
			assert.Equal(t, true, r["isCorrect"], "draft graded as submitted")
			assert.Equal(t, float64(160), r["points"], "draft keeps its capture time, 12s of 30s")
		}
	}
}

func TestRoom_TimeUpHostOnly(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})

	h.do(cmdTimeUp{from: "p2"})
	_, ended := h.sink.last(EvtRoundResults)
	assert.False(t, ended, "non-host time-up is ignored")

	h.do(cmdTimeUp{from: "host"})
	_, ended = h.sink.last(EvtRoundResults)
	assert.True(t, ended)
}

func TestRoom_StandardAdvancesThroughQuestions(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(2))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{
		mcQuestion(t, "q1", "geo", "Muscat"),
		mcQuestion(t, "q2", "geo", "Nizwa"),
	}})

	h.do(cmdAnswer{from: "host", answer: answer(t, "other"), final: true})
	h.do(cmdAnswer{from: "p2", answer: answer(t, "other"), final: true})

	require.Equal(t, domain.PhaseShowingLeaderboard, h.r.phase)
	h.fire() // leaderboard pause elapses

	next := h.sink.all(EvtNextQuestion)
	require.Len(t, next, 2)
	assert.Equal(t, float64(1), next[0].data["questionIndex"])
	assert.Equal(t, domain.PhasePlaying, h.r.phase)
}

func TestRoom_TurnBasedSelectionFlow(t *testing.T) {
	h := newHarness(t, domain.ModeTurnBased, domain.Settings{QuestionCount: 2, TimePerQuestion: 30})
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{
		mcQuestion(t, "q1", "geo", "Muscat"),
		mcQuestion(t, "q2", "history", "1970"),
		mcQuestion(t, "q3", "geo", "Nizwa"),
	}})

	ts, ok := h.sink.last(EvtTurnStart)
	require.True(t, ok)
	assert.Equal(t, "host", ts.data["categorySelector"].(map[string]any)["playerId"])
	assert.Equal(t, "p2", ts.data["typeSelector"].(map[string]any)["playerId"])
	cats := ts.data["availableCategoryIds"].([]any)
	assert.LessOrEqual(t, len(cats), 4)
	require.Equal(t, domain.PhaseSelectingCategory, h.r.phase)

	// Only the designated selector may pick, and only an offered category.
	h.do(cmdSelectCategory{from: "p2", categoryID: "geo"})
	require.Equal(t, domain.PhaseSelectingCategory, h.r.phase)
	h.do(cmdSelectCategory{from: "host", categoryID: "nope"})
	require.Equal(t, domain.PhaseSelectingCategory, h.r.phase)

	h.do(cmdSelectCategory{from: "host", categoryID: "geo"})
	require.Equal(t, domain.PhaseSelectingType, h.r.phase)

	cs, ok := h.sink.last(EvtCategorySelected)
	require.True(t, ok)
	assert.Equal(t, "geo", cs.data["categoryId"])
	assert.Equal(t, false, cs.data["autoSelected"])

	h.do(cmdSelectType{from: "host", typeID: "multiple-choice"})
	require.Equal(t, domain.PhaseSelectingType, h.r.phase, "category selector cannot pick the type")

	h.do(cmdSelectType{from: "p2", typeID: "multiple-choice"})
	require.Equal(t, domain.PhasePlaying, h.r.phase)

	qg, ok := h.sink.last(EvtQuestionGenerated)
	require.True(t, ok)
	q := qg.data["question"].(map[string]any)
	assert.Contains(t, []any{"q1", "q3"}, q["id"], "drawn from the chosen category and kind")
	assert.Equal(t, float64(2), qg.data["totalQuestions"])
}

func TestRoom_SelectionTimeoutAutoPicks(t *testing.T) {
	h := newHarness(t, domain.ModeTurnBased, domain.Settings{QuestionCount: 1, TimePerQuestion: 30})
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})
	require.Equal(t, domain.PhaseSelectingCategory, h.r.phase)

	h.fire() // category window expires

	cs, ok := h.sink.last(EvtCategorySelected)
	require.True(t, ok)
	assert.Equal(t, true, cs.data["autoSelected"])
	assert.Equal(t, "geo", cs.data["categoryId"])
	require.Equal(t, domain.PhaseSelectingType, h.r.phase)

	h.fire() // type window expires: auto-pick may or may not find a question

	switch h.r.phase {
	case domain.PhasePlaying:
		_, ok := h.sink.last(EvtQuestionGenerated)
		assert.True(t, ok)
	case domain.PhaseSelectingCategory:
		_, ok := h.sink.last(EvtNoQuestions)
		assert.True(t, ok, "an empty draw restarts the selection")
	default:
		t.Fatalf("unexpected phase %s", h.r.phase)
	}
}

func TestRoom_NoQuestionsRetainsTurn(t *testing.T) {
	h := newHarness(t, domain.ModeTurnBased, domain.Settings{QuestionCount: 1, TimePerQuestion: 30})
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})
	h.do(cmdSelectCategory{from: "host", categoryID: "geo"})

	before, _ := h.sink.last(EvtTurnStart)
	h.sink.reset()

	h.do(cmdSelectType{from: "p2", typeID: "order"}) // no order questions in the pool

	_, ok := h.sink.last(EvtNoQuestions)
	require.True(t, ok)

	after, ok := h.sink.last(EvtTurnStart)
	require.True(t, ok)
	assert.Equal(t, before.data["turn"], after.data["turn"], "a failed draw does not consume the turn")
	assert.Equal(t, before.data["availableCategoryIds"], after.data["availableCategoryIds"], "the category offer is reused")
	assert.Equal(t, "host", after.data["categorySelector"].(map[string]any)["playerId"])
	require.Equal(t, domain.PhaseSelectingCategory, h.r.phase)
}

func TestRoom_HostMigration(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))
	require.NoError(t, h.join("p3", "dana"))

	h.do(cmdDisconnect{from: "host"})

	nh, ok := h.sink.last(EvtNewHost)
	require.True(t, ok)
	assert.Equal(t, "p2", nh.data["playerId"], "first connected player in join order takes over")
	assert.Equal(t, "p2", h.r.hostID)

	left, ok := h.sink.last(EvtPlayerLeft)
	require.True(t, ok)
	assert.Equal(t, "disconnected", left.data["reason"])
}

func TestRoom_DisconnectCompletesRound(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))
	require.NoError(t, h.join("p3", "dana"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})
	h.do(cmdAnswer{from: "host", answer: answer(t, "Muscat"), final: true})
	h.do(cmdAnswer{from: "p2", answer: answer(t, "other"), final: true})

	_, ended := h.sink.last(EvtRoundResults)
	require.False(t, ended)

	h.do(cmdDisconnect{from: "p3"})

	results, ok := h.sink.last(EvtRoundResults)
	require.True(t, ok, "the missing answer was the disconnected player's")

	rs := results.data["results"].([]any)
	assert.Len(t, rs, 3, "the disconnected player still appears, scored zero")
}

func TestRoom_LastLeaveDestroysRoom(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdLeave{from: "p2"})
	require.Empty(t, h.destroyed)

	h.do(cmdLeave{from: "host"})
	assert.Equal(t, []string{"ABC234"}, h.destroyed)
}

func TestRoom_Restart(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{mcQuestion(t, "q1", "geo", "Muscat")}})
	h.do(cmdAnswer{from: "host", answer: answer(t, "Muscat"), final: true})
	h.do(cmdAnswer{from: "p2", answer: answer(t, "other"), final: true})
	require.Equal(t, domain.PhaseFinished, h.r.phase)

	h.do(cmdRestart{from: "p2"})
	require.Equal(t, domain.PhaseFinished, h.r.phase, "only the host can restart")

	h.do(cmdRestart{from: "host"})
	require.Equal(t, domain.PhaseWaiting, h.r.phase)

	gr, ok := h.sink.last(EvtGameRestarted)
	require.True(t, ok)
	for _, v := range gr.data["players"].([]any) {
		assert.Equal(t, float64(0), v.(map[string]any)["score"])
	}
}

func TestRoom_StaleTimerAfterRestart(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(2))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{
		mcQuestion(t, "q1", "geo", "Muscat"),
		mcQuestion(t, "q2", "geo", "Nizwa"),
	}})
	h.do(cmdAnswer{from: "host", answer: answer(t, "other"), final: true})
	h.do(cmdAnswer{from: "p2", answer: answer(t, "other"), final: true})
	require.Equal(t, domain.PhaseShowingLeaderboard, h.r.phase)

	// Restart races the pending advance timer and must win.
	advance := h.sched.timers[len(h.sched.timers)-1]
	h.do(cmdRestart{from: "host"})
	require.Equal(t, domain.PhaseWaiting, h.r.phase)

	h.sink.reset()
	advance.f() // the underlying timer fires anyway
	h.drain()

	assert.Empty(t, h.sink.all(EvtNextQuestion), "a superseded timer does nothing")
	assert.Equal(t, domain.PhaseWaiting, h.r.phase)
}

func TestRoom_StandardTruncatesToQuestionCount(t *testing.T) {
	h := newHarness(t, domain.ModeStandard, standardSettings(1))
	require.NoError(t, h.join("p2", "badr"))

	h.do(cmdStart{from: "host", questions: []json.RawMessage{
		mcQuestion(t, "q1", "geo", "Muscat"),
		mcQuestion(t, "q2", "geo", "Nizwa"),
		mcQuestion(t, "q3", "geo", "Sur"),
	}})

	started, ok := h.sink.last(EvtGameStarted)
	require.True(t, ok)
	assert.Equal(t, float64(1), started.data["totalQuestions"])
	assert.Len(t, h.r.questions, 1)
}
