package room

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"slices"
	"sort"
	"time"

	"github.com/MrAsnssr/OmaniGame-sub001/internal/domain"
	"github.com/MrAsnssr/OmaniGame-sub001/internal/quiz"
)

// turnOfferSize caps how many categories a turn's selector gets to choose
// from.
const turnOfferSize = 4

func (r *Room) handleStart(from string, raws []json.RawMessage) {
	fail := func(msg string) {
		r.d.sink.Send(from, EvtStartError, map[string]any{"message": msg})
	}

	if from != r.hostID {
		fail("only the host can start the game")
		return
	}
	if r.phase != domain.PhaseWaiting {
		fail("game already in progress")
		return
	}
	if r.connectedCount() < r.d.cfg.MinPlayers {
		fail("not enough players to start")
		return
	}

	pool := quiz.Filter(quiz.DecodeAll(raws), r.settings.SelectedTopicIDs, nil)

	switch r.mode {
	case domain.ModeStandard:
		qs := quiz.Filter(pool, nil, r.settings.SelectedTypes)
		if len(qs) == 0 {
			fail("no questions match the room settings")
			return
		}
		rand.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
		if n := r.settings.QuestionCount; n > 0 && len(qs) > n {
			qs = qs[:n]
		}

		r.questions = qs
		r.current = 0
		r.startQuestion(EvtGameStarted)

	case domain.ModeTurnBased:
		if r.settings.QuestionCount <= 0 {
			fail("turn-based games need a question count")
			return
		}
		if len(pool) == 0 {
			fail("no questions match the room settings")
			return
		}

		r.allQuestions = pool
		r.uniqueCategoryIDs = uniqueCategories(pool)
		r.turn = 0
		r.startTurn(true)
	}

	slog.Info("room: game started", "code", r.code, "mode", r.mode, "pool", len(pool))
}

// startTurn opens a selection turn. The category selector rotates through the
// connected roster in join order and the type selector is the next seat over.
// fresh controls whether a new category offer is sampled; a retry after an
// empty draw reuses the previous offer so the selector can pick differently.
func (r *Room) startTurn(fresh bool) {
	connected := r.connectedPlayers()
	if len(connected) == 0 {
		r.d.onEmpty(r.code)
		return
	}

	r.categorySelectorID = connected[r.turn%len(connected)].id
	r.typeSelectorID = connected[(r.turn+1)%len(connected)].id
	r.currentCategory = ""
	r.currentType = ""
	if fresh {
		r.turnCategoryIDs = sampleCategories(r.uniqueCategoryIDs, turnOfferSize)
	}

	r.phase = domain.PhaseSelectingCategory
	r.arm(slotSelection, r.d.cfg.SelectionWindow)

	r.broadcast(EvtTurnStart, map[string]any{
		"turn":                 r.turn,
		"questionNumber":       len(r.questions) + 1,
		"totalQuestions":       r.settings.QuestionCount,
		"categorySelector":     r.selectorSnapshot(r.categorySelectorID),
		"typeSelector":         r.selectorSnapshot(r.typeSelectorID),
		"availableCategoryIds": r.turnCategoryIDs,
		"timeLimit":            int(r.d.cfg.SelectionWindow / time.Second),
	})
}

func (r *Room) selectorSnapshot(id string) map[string]any {
	p := r.find(id)
	if p == nil {
		return nil
	}
	return map[string]any{"playerId": p.id, "name": p.name}
}

func (r *Room) handleSelectCategory(from, categoryID string) {
	if r.phase != domain.PhaseSelectingCategory || from != r.categorySelectorID {
		return
	}
	if !slices.Contains(r.turnCategoryIDs, categoryID) {
		return
	}
	r.categorySelected(categoryID, false)
}

func (r *Room) autoSelectCategory() {
	if len(r.turnCategoryIDs) == 0 {
		r.d.onEmpty(r.code)
		return
	}
	r.categorySelected(r.turnCategoryIDs[rand.Intn(len(r.turnCategoryIDs))], true)
}

func (r *Room) categorySelected(categoryID string, auto bool) {
	r.currentCategory = categoryID
	r.phase = domain.PhaseSelectingType
	r.arm(slotSelection, r.d.cfg.SelectionWindow)

	r.broadcast(EvtCategorySelected, map[string]any{
		"categoryId":   categoryID,
		"autoSelected": auto,
		"typeSelector": r.selectorSnapshot(r.typeSelectorID),
		"types":        quiz.KnownKinds(),
		"timeLimit":    int(r.d.cfg.SelectionWindow / time.Second),
	})
}

func (r *Room) handleSelectType(from, typeID string) {
	if r.phase != domain.PhaseSelectingType || from != r.typeSelectorID {
		return
	}
	kind := quiz.Kind(typeID)
	if !slices.Contains(quiz.KnownKinds(), kind) {
		return
	}
	r.typeSelected(kind)
}

// autoSelectType picks uniformly among every known kind, not just the kinds
// present in the pool; an empty draw is handled like any other no-questions
// outcome.
func (r *Room) autoSelectType() {
	kinds := quiz.KnownKinds()
	r.typeSelected(kinds[rand.Intn(len(kinds))])
}

// typeSelected completes the turn's selection: draw one random question of
// the chosen category and kind from the pool, or report no-questions and
// restart the same turn's category selection.
func (r *Room) typeSelected(kind quiz.Kind) {
	r.cancelTimer(slotSelection)
	r.currentType = string(kind)

	var candidates []int
	for i, q := range r.allQuestions {
		if q.Category() == r.currentCategory && q.Kind() == kind {
			candidates = append(candidates, i)
		}
	}

	if len(candidates) == 0 {
		r.broadcast(EvtNoQuestions, map[string]any{
			"categoryId": r.currentCategory,
			"type":       kind,
		})
		// Same turn, same selectors, same category offer.
		r.startTurn(false)
		return
	}

	i := candidates[rand.Intn(len(candidates))]
	q := r.allQuestions[i]
	r.allQuestions = append(r.allQuestions[:i], r.allQuestions[i+1:]...)

	r.questions = append(r.questions, q)
	r.current = len(r.questions) - 1
	r.startQuestion(EvtQuestionGenerated)
}

// startQuestion opens the current question for answers and arms the answer
// deadline. The opening event name varies by entry path; the payload shape
// does not.
func (r *Room) startQuestion(event string) {
	r.phase = domain.PhasePlaying
	r.answers = make(map[string]answerRecord)
	r.drafts = make(map[string]answerRecord)
	r.questionStart = r.d.now()
	r.arm(slotAnswer, time.Duration(r.settings.TimePerQuestion)*time.Second)

	total := len(r.questions)
	if r.mode == domain.ModeTurnBased {
		total = r.settings.QuestionCount
	}

	r.broadcast(event, map[string]any{
		"question":       r.questions[r.current].Public(),
		"questionIndex":  r.current,
		"totalQuestions": total,
		"timeLimit":      r.settings.TimePerQuestion,
		"players":        r.playersSnapshot(),
	})
}

func (r *Room) handleAnswer(from string, answer json.RawMessage, final bool) {
	if r.phase != domain.PhasePlaying {
		return
	}
	p := r.find(from)
	if p == nil || !p.connected {
		return
	}
	if _, done := r.answers[from]; done {
		return // first final answer wins; later submissions and drafts are dropped
	}

	rec := answerRecord{
		answer: answer,
		taken:  r.d.now().Sub(r.questionStart).Seconds(),
		at:     r.d.now(),
	}

	if final {
		r.answers[from] = rec
		delete(r.drafts, from)
	} else {
		r.drafts[from] = rec
	}

	r.broadcast(EvtPlayerAnswered, map[string]any{
		"playerId":      from,
		"final":         final,
		"answeredCount": r.answeredCount(),
		"totalPlayers":  r.connectedCount(),
	})

	if final && r.allConnectedAnswered() {
		r.endRound()
	}
}

// answeredCount counts connected players with either a final answer or a
// draft in flight.
func (r *Room) answeredCount() int {
	n := 0
	for _, p := range r.players {
		if !p.connected {
			continue
		}
		if _, ok := r.answers[p.id]; ok {
			n++
			continue
		}
		if _, ok := r.drafts[p.id]; ok {
			n++
		}
	}
	return n
}

func (r *Room) handleTimeUp(from string) {
	if from != r.hostID || r.phase != domain.PhasePlaying {
		return
	}
	r.endRound()
}

// endRound grades the current question for the whole roster, applies scores,
// and either advances toward the next round or finishes the game. Drafts left
// unsubmitted are promoted to answers first, keeping their original timing.
func (r *Room) endRound() {
	r.cancelTimer(slotAnswer)

	for id, d := range r.drafts {
		if _, ok := r.answers[id]; !ok {
			r.answers[id] = d
		}
	}
	r.drafts = make(map[string]answerRecord)

	q := r.questions[r.current]
	limit := float64(r.settings.TimePerQuestion)
	now := r.d.now()

	results := make([]RoundResult, 0, len(r.players))
	for _, p := range r.players {
		rec, answered := r.answers[p.id]

		correct := false
		taken := limit
		points := 0
		if answered {
			correct = quiz.Grade(q, rec.answer)
			taken = rec.taken
			points = quiz.Points(correct, taken, limit)
		}

		p.score += points
		r.publishScore(p, now)

		results = append(results, RoundResult{
			PlayerID:   p.id,
			Name:       p.name,
			IsCorrect:  correct,
			Points:     points,
			TotalScore: p.score,
			TimeTaken:  taken,
		})
	}

	rankResults(results)

	r.broadcast(EvtRoundResults, map[string]any{
		"questionIndex": r.current,
		"results":       results,
		"correctAnswer": q.Solution(),
	})

	if r.gameOver() {
		r.finish()
		return
	}

	r.phase = domain.PhaseShowingLeaderboard
	r.arm(slotAdvance, r.d.cfg.AdvanceDelay)
}

// rankResults sorts by total score descending and assigns consecutive
// 1-based ranks. Ties do not share a rank; the stable sort keeps tied players
// in roster order and each gets the next position.
func rankResults(results []RoundResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalScore > results[j].TotalScore
	})

	for i := range results {
		results[i].Rank = i + 1
	}
}

func (r *Room) gameOver() bool {
	switch r.mode {
	case domain.ModeTurnBased:
		return len(r.questions) >= r.settings.QuestionCount
	default:
		return r.current >= len(r.questions)-1
	}
}

func (r *Room) finish() {
	r.phase = domain.PhaseFinished

	standings := r.playersSnapshot()
	sort.SliceStable(standings, func(i, j int) bool {
		return standings[i].Score > standings[j].Score
	})

	payload := map[string]any{"standings": standings}
	if len(standings) > 0 {
		payload["winner"] = standings[0]
	}
	r.broadcast(EvtGameOver, payload)

	slog.Info("room: game over", "code", r.code, "questions", len(r.questions))
}

// advance moves from the leaderboard pause into the next round.
func (r *Room) advance() {
	switch r.mode {
	case domain.ModeTurnBased:
		r.turn++
		r.startTurn(true)
	default:
		r.current++
		r.startQuestion(EvtNextQuestion)
	}
}

func uniqueCategories(qs []quiz.Question) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, q := range qs {
		if _, ok := seen[q.Category()]; ok {
			continue
		}
		seen[q.Category()] = struct{}{}
		out = append(out, q.Category())
	}
	return out
}

func sampleCategories(ids []string, n int) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
