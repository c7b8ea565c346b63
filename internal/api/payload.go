package api

import (
	"time"

	"github.com/medquiz/kidneyrace/internal/domain"
)

// Wire event names, matching what the game clients listen for.
const (
	eventJoined        = "joined"
	eventSessionUpdate = "session_update"
	eventGameStarted   = "game_started"
	eventNewQuestion   = "new_question"
	eventTimerUpdate   = "timer_update"
	eventQuestionEnded = "question_ended"
	eventGameEnded     = "game_ended"
	eventGameReset     = "game_reset"
	eventError         = "error"
)

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type SessionInfo struct {
	ID              string `json:"id"`
	JoinCode        string `json:"join_code"`
	Status          string `json:"status"`
	CurrentQuestion int    `json:"current_question"`
}

type Player struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Team       int         `json:"team"`
	Score      int         `json:"score"`
	Connected  bool        `json:"connected"`
	JoinedAt   time.Time   `json:"joined_at"`
	LastAnswer *LastAnswer `json:"last_answer,omitempty"`
}

type LastAnswer struct {
	Question  int  `json:"question"`
	Option    int  `json:"option"`
	IsCorrect bool `json:"is_correct"`
	Points    int  `json:"points"`
}

type Team struct {
	Index   int      `json:"index"`
	Name    string   `json:"name"`
	Glyph   string   `json:"glyph"`
	Members []string `json:"members"`
	Score   int      `json:"score"`
}

// Question is the broadcast shape of a deck entry. The correct option
// index is deliberately absent; it is only revealed by question_ended.
type Question struct {
	Text       string   `json:"question"`
	Options    []string `json:"options"`
	Points     int      `json:"points"`
	Time       int      `json:"time"`
	Difficulty int      `json:"difficulty"`
	Category   string   `json:"type"`
}

type SessionSnapshot struct {
	Session      SessionInfo `json:"session"`
	Players      []Player    `json:"players"`
	Teams        []Team      `json:"teams"`
	TotalPlayers int         `json:"total_players"`
}

func sessionInfo(s *domain.Session) SessionInfo {
	return SessionInfo{
		ID:              s.SessionID,
		JoinCode:        s.JoinCode,
		Status:          string(s.Status),
		CurrentQuestion: s.CurrentQuestion,
	}
}

func playerList(players []domain.Player) []Player {
	out := make([]Player, 0, len(players))
	for _, p := range players {
		pp := Player{
			ID:        p.PlayerID,
			Name:      p.Name,
			Team:      p.Team,
			Score:     p.Score,
			Connected: p.Connected,
			JoinedAt:  p.JoinedAt,
		}
		if p.LastAnswer != nil {
			pp.LastAnswer = &LastAnswer{
				Question:  p.LastAnswer.Question,
				Option:    p.LastAnswer.Option,
				IsCorrect: p.LastAnswer.IsCorrect,
				Points:    p.LastAnswer.Points,
			}
		}
		out = append(out, pp)
	}
	return out
}

func teamList(teams []domain.Team) []Team {
	out := make([]Team, 0, len(teams))
	for i, t := range teams {
		members := t.Members
		if members == nil {
			members = []string{}
		}
		out = append(out, Team{
			Index:   i,
			Name:    t.Name,
			Glyph:   t.Glyph,
			Members: members,
			Score:   t.Score,
		})
	}
	return out
}

func snapshot(s domain.Session) SessionSnapshot {
	return SessionSnapshot{
		Session:      sessionInfo(&s),
		Players:      playerList(s.Players),
		Teams:        teamList(s.Teams),
		TotalPlayers: len(s.Players),
	}
}

func question(q domain.Question) Question {
	return Question{
		Text:       q.Text,
		Options:    q.Options,
		Points:     q.Points,
		Time:       int(q.TimeLimit / time.Second),
		Difficulty: q.Difficulty,
		Category:   q.Category,
	}
}
