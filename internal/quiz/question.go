package quiz

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Kind is the closed set of question types the server understands.
type Kind string

const (
	KindMultipleChoice Kind = "multiple-choice"
	KindFillBlank      Kind = "fill-blank"
	KindOrder          Kind = "order"
	KindMatch          Kind = "match"
)

// KnownKinds returns every recognized kind. The selection-timeout fallback
// picks uniformly among these, whether or not the pool has questions of that
// kind for the chosen category.
func KnownKinds() []Kind {
	return []Kind{KindMultipleChoice, KindFillBlank, KindOrder, KindMatch}
}

// Question is one validated quiz question. The union is closed: only the four
// kinds in this package implement it, and each carries only the fields its
// kind requires. Payloads are validated once at the boundary by Decode and
// never re-checked downstream.
type Question interface {
	ID() string
	Kind() Kind
	Category() string

	// Public is the client-facing view, without the solution.
	Public() map[string]any
	// Solution is the canonical correct answer broadcast at round end:
	// the answer string for most kinds, the correct ordering for order
	// questions, the full pair mapping for match questions.
	Solution() any

	grade(raw json.RawMessage) bool
}

type Pair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type MultipleChoice struct {
	QID        string
	CategoryID string
	Prompt     string
	Options    []string
	Answer     string
}

func (q *MultipleChoice) ID() string       { return q.QID }
func (q *MultipleChoice) Kind() Kind       { return KindMultipleChoice }
func (q *MultipleChoice) Category() string { return q.CategoryID }
func (q *MultipleChoice) Solution() any    { return q.Answer }

func (q *MultipleChoice) Public() map[string]any {
	return map[string]any{
		"id":         q.QID,
		"type":       string(KindMultipleChoice),
		"categoryId": q.CategoryID,
		"prompt":     q.Prompt,
		"options":    q.Options,
	}
}

func (q *MultipleChoice) grade(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return s == q.Answer
}

type FillBlank struct {
	QID        string
	CategoryID string
	Prompt     string
	Answer     string
}

func (q *FillBlank) ID() string       { return q.QID }
func (q *FillBlank) Kind() Kind       { return KindFillBlank }
func (q *FillBlank) Category() string { return q.CategoryID }
func (q *FillBlank) Solution() any    { return q.Answer }

func (q *FillBlank) Public() map[string]any {
	return map[string]any{
		"id":         q.QID,
		"type":       string(KindFillBlank),
		"categoryId": q.CategoryID,
		"prompt":     q.Prompt,
	}
}

func (q *FillBlank) grade(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return FillBlankCorrect(s, q.Answer)
}

type Order struct {
	QID          string
	CategoryID   string
	Prompt       string
	Items        []string
	CorrectOrder []int
}

func (q *Order) ID() string       { return q.QID }
func (q *Order) Kind() Kind       { return KindOrder }
func (q *Order) Category() string { return q.CategoryID }
func (q *Order) Solution() any    { return q.CorrectOrder }

func (q *Order) Public() map[string]any {
	return map[string]any{
		"id":         q.QID,
		"type":       string(KindOrder),
		"categoryId": q.CategoryID,
		"prompt":     q.Prompt,
		"items":      q.Items,
	}
}

func (q *Order) grade(raw json.RawMessage) bool {
	var order []int
	if err := json.Unmarshal(raw, &order); err != nil {
		return false
	}
	return slices.Equal(order, q.CorrectOrder)
}

type Match struct {
	QID        string
	CategoryID string
	Prompt     string
	Pairs      []Pair
}

func (q *Match) ID() string       { return q.QID }
func (q *Match) Kind() Kind       { return KindMatch }
func (q *Match) Category() string { return q.CategoryID }

func (q *Match) Solution() any {
	m := make(map[string]string, len(q.Pairs))
	for _, p := range q.Pairs {
		m[p.Left] = p.Right
	}
	return m
}

// Public lists the left column in order and the right column sorted, so the
// payload itself does not leak the pairing.
func (q *Match) Public() map[string]any {
	lefts := make([]string, 0, len(q.Pairs))
	rights := make([]string, 0, len(q.Pairs))
	for _, p := range q.Pairs {
		lefts = append(lefts, p.Left)
		rights = append(rights, p.Right)
	}
	sort.Strings(rights)

	return map[string]any{
		"id":         q.QID,
		"type":       string(KindMatch),
		"categoryId": q.CategoryID,
		"prompt":     q.Prompt,
		"left":       lefts,
		"right":      rights,
	}
}

// grade expects a full left->right mapping; every pair must be present and
// matched exactly.
func (q *Match) grade(raw json.RawMessage) bool {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	if len(m) != len(q.Pairs) {
		return false
	}
	for _, p := range q.Pairs {
		if m[p.Left] != p.Right {
			return false
		}
	}
	return true
}

// Grade reports whether raw is a correct answer to q. A missing or malformed
// answer is simply incorrect.
func Grade(q Question, raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	return q.grade(raw)
}

type wireQuestion struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	CategoryID   string   `json:"categoryId"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	Answer       string   `json:"answer"`
	Items        []string `json:"items"`
	CorrectOrder []int    `json:"correctOrder"`
	Pairs        []Pair   `json:"pairs"`
}

// Decode parses and structurally validates one question payload.
func Decode(raw json.RawMessage) (Question, error) {
	var w wireQuestion
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode question: %w", err)
	}

	switch Kind(w.Type) {
	case KindMultipleChoice:
		if len(w.Options) < 2 {
			return nil, fmt.Errorf("question %s: multiple-choice needs at least 2 options", w.ID)
		}
		if w.Answer == "" {
			return nil, fmt.Errorf("question %s: multiple-choice needs an answer", w.ID)
		}
		return &MultipleChoice{QID: w.ID, CategoryID: w.CategoryID, Prompt: w.Prompt, Options: w.Options, Answer: w.Answer}, nil

	case KindFillBlank:
		if w.Answer == "" {
			return nil, fmt.Errorf("question %s: fill-blank needs an answer", w.ID)
		}
		return &FillBlank{QID: w.ID, CategoryID: w.CategoryID, Prompt: w.Prompt, Answer: w.Answer}, nil

	case KindOrder:
		if len(w.Items) < 2 {
			return nil, fmt.Errorf("question %s: order needs at least 2 items", w.ID)
		}
		if len(w.CorrectOrder) != len(w.Items) {
			return nil, fmt.Errorf("question %s: correctOrder must cover all %d items", w.ID, len(w.Items))
		}
		return &Order{QID: w.ID, CategoryID: w.CategoryID, Prompt: w.Prompt, Items: w.Items, CorrectOrder: w.CorrectOrder}, nil

	case KindMatch:
		if len(w.Pairs) < 2 {
			return nil, fmt.Errorf("question %s: match needs at least 2 pairs", w.ID)
		}
		return &Match{QID: w.ID, CategoryID: w.CategoryID, Prompt: w.Prompt, Pairs: w.Pairs}, nil

	default:
		return nil, fmt.Errorf("question %s: unknown type %q", w.ID, w.Type)
	}
}

// DecodeAll parses a submitted question set, silently dropping structurally
// invalid entries.
func DecodeAll(raws []json.RawMessage) []Question {
	qs := make([]Question, 0, len(raws))
	for _, raw := range raws {
		q, err := Decode(raw)
		if err != nil {
			continue
		}
		qs = append(qs, q)
	}
	return qs
}

// Filter keeps questions matching the room configuration: if topicIDs is
// non-empty only questions in those categories survive, and if kinds is
// non-empty (standard mode) the kind must also be selected. Side-effect-free.
func Filter(qs []Question, topicIDs []string, kinds []string) []Question {
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		if len(topicIDs) > 0 && !slices.Contains(topicIDs, q.Category()) {
			continue
		}
		if len(kinds) > 0 && !slices.Contains(kinds, string(q.Kind())) {
			continue
		}
		out = append(out, q)
	}
	return out
}
