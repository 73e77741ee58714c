package room

// Outbound event names, broadcast to every connection bound to a room unless
// noted otherwise.
const (
	EvtRoomCreated       = "room-created" // initiating connection only
	EvtRoomJoined        = "room-joined"  // initiating connection only
	EvtPlayerJoined      = "player-joined"
	EvtPlayerLeft        = "player-left"
	EvtNewHost           = "new-host"
	EvtGameStarted       = "game-started"
	EvtTurnStart         = "turn-start"
	EvtCategorySelected  = "category-selected"
	EvtQuestionGenerated = "question-generated"
	EvtNoQuestions       = "no-questions"
	EvtPlayerAnswered    = "player-answered"
	EvtRoundResults      = "round-results"
	EvtNextQuestion      = "next-question"
	EvtGameOver          = "game-over"
	EvtGameRestarted     = "game-restarted"
	EvtStartError        = "start-error" // initiating connection only
	EvtJoinError         = "join-error"  // initiating connection only
)

// RoundResult is one player's outcome for a single question.
type RoundResult struct {
	PlayerID   string  `json:"playerId"`
	Name       string  `json:"name"`
	IsCorrect  bool    `json:"isCorrect"`
	Points     int     `json:"points"`
	TotalScore int     `json:"totalScore"`
	TimeTaken  float64 `json:"timeTaken"` // seconds
	Rank       int     `json:"rank"`      // 1-based position; ties get consecutive ranks, not shared ones
}
