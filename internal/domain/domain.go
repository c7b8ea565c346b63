package domain

import "time"

// Status is the lifecycle state of a game session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

const (
	// TeamCount is fixed per session. Teams are created at session start
	// and never added or removed.
	TeamCount = 5

	// MaxTeamSize caps the members of a single team.
	MaxTeamSize = 4

	// MaxPlayers caps the whole session, below the theoretical 5*4.
	MaxPlayers = 17

	// NoQuestion is the current-question sentinel before the game starts.
	NoQuestion = -1
)

// Question is one entry of the static deck, identified by its position.
type Question struct {
	Text       string
	Options    []string
	Correct    int
	Points     int
	TimeLimit  time.Duration
	Difficulty int
	Category   string
}

// Team groups up to MaxTeamSize players. Score is derived from member
// scores and never stored independently in memory.
type Team struct {
	Name    string
	Glyph   string
	Members []string
	Score   int
}

// DefaultTeams returns the fixed five-team layout every session starts
// with, in index order.
func DefaultTeams() []Team {
	return []Team{
		{Name: "RIÑÓN ROJO", Glyph: "🏎️"},
		{Name: "AZUL NEFRÓN", Glyph: "🏁"},
		{Name: "AMARILLO FILTRO", Glyph: "🚗"},
		{Name: "VERDE HOMEOSTASIS", Glyph: "🏎️"},
		{Name: "PÚRPURA UREA", Glyph: "🏁"},
	}
}

// LastAnswer records a player's most recent submission.
type LastAnswer struct {
	Question   int
	Option     int
	IsCorrect  bool
	Points     int
	AnsweredAt time.Time
}

// Player belongs to exactly one team for its lifetime.
type Player struct {
	PlayerID   string
	Name       string
	Team       int
	Score      int
	Connected  bool
	JoinedAt   time.Time
	LastAnswer *LastAnswer
}

// Session owns all teams and players within it and is the sole unit of
// isolation: every broadcast and mutation is scoped to one session.
type Session struct {
	SessionID       string
	JoinCode        string
	Status          Status
	CurrentQuestion int
	QuestionStart   time.Time
	Teams           []Team
	Players         []Player
}

// AnswerRecord is one row of the append-only answer log.
type AnswerRecord struct {
	SessionID    string
	PlayerID     string
	Question     int
	Option       int
	IsCorrect    bool
	ResponseTime time.Duration
	Points       int
}
