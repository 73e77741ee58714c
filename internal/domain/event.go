package domain

const (
	EventNameRoomCreated  = "room.created"
	EventNameRoomClosed   = "room.closed"
	EventNameScoreUpdated = "score.updated"
)

type EventRoomCreated struct {
	Code string
	Mode GameMode
}

func (EventRoomCreated) Name() string { return EventNameRoomCreated }

type EventRoomClosed struct {
	Code string
}

func (EventRoomClosed) Name() string { return EventNameRoomClosed }

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }
