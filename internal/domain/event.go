package domain

const (
	EventNamePlayerJoined    = "player.joined"
	EventNamePlayerLeft      = "player.left"
	EventNameSessionUpdated  = "session.updated"
	EventNameGameStarted     = "game.started"
	EventNameQuestionStarted = "question.started"
	EventNameTimerTick       = "timer.tick"
	EventNameQuestionEnded   = "question.ended"
	EventNameGameEnded       = "game.ended"
	EventNameGameReset       = "game.reset"
)

type EventPlayerJoined struct {
	Session Session
	Player  Player
}

func (EventPlayerJoined) Name() string { return EventNamePlayerJoined }

type EventPlayerLeft struct {
	Session  Session
	PlayerID string
}

func (EventPlayerLeft) Name() string { return EventNamePlayerLeft }

type EventSessionUpdated struct {
	Session Session
}

func (EventSessionUpdated) Name() string { return EventNameSessionUpdated }

type EventGameStarted struct {
	SessionID string
	Question  Question
	Index     int
}

func (EventGameStarted) Name() string { return EventNameGameStarted }

type EventQuestionStarted struct {
	SessionID string
	Question  Question
	Index     int
}

func (EventQuestionStarted) Name() string { return EventNameQuestionStarted }

type EventTimerTick struct {
	SessionID string
	Remaining int
}

func (EventTimerTick) Name() string { return EventNameTimerTick }

type EventQuestionEnded struct {
	SessionID string
	Index     int
	Correct   int
}

func (EventQuestionEnded) Name() string { return EventNameQuestionEnded }

type EventGameEnded struct {
	Session Session
}

func (EventGameEnded) Name() string { return EventNameGameEnded }

type EventGameReset struct {
	Session Session
}

func (EventGameReset) Name() string { return EventNameGameReset }
