package domain

import "time"

// GameMode decides how questions are chosen: the whole set up front, or one
// question per turn after a category/type pick.
type GameMode string

const (
	ModeStandard  GameMode = "standard"
	ModeTurnBased GameMode = "turn-based"
)

func (m GameMode) Valid() bool {
	return m == ModeStandard || m == ModeTurnBased
}

// Phase is the lifecycle state of a room. Transitions are server-driven only.
type Phase string

const (
	PhaseWaiting            Phase = "waiting"
	PhasePlaying            Phase = "playing"
	PhaseSelectingCategory  Phase = "selecting-category"
	PhaseSelectingType      Phase = "selecting-type"
	PhaseShowingLeaderboard Phase = "showing-leaderboard"
	PhaseFinished           Phase = "finished"
)

// Settings is fixed at room creation. Clients filter content against it before
// start-game; the server filters again on its side.
type Settings struct {
	QuestionCount    int      `json:"questionCount"`
	TimePerQuestion  int      `json:"timePerQuestion"` // seconds
	SelectedTypes    []string `json:"selectedTypes"`
	CategoryID       string   `json:"categoryId,omitempty"`
	SelectedTopicIDs []string `json:"selectedTopicIds"`
}

// Player is one roster entry. ID is the transport connection identifier and
// doubles as room-scoped identity; a reconnecting player is a new Player.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
}

// Score is one player's running total within a room, published on the event
// bus after every graded answer.
type Score struct {
	RoomCode   string
	PlayerID   string
	PlayerName string
	Total      int
	UpdateTime time.Time
}

// Leaderboard is the ordered scoreboard mirror for one room, sorted by score
// in descending order.
type Leaderboard struct {
	RoomCode string
	Entries  []LeaderboardEntry
}

type LeaderboardEntry struct {
	PlayerName string
	Score      int
}
