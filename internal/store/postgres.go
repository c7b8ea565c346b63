// Package store mirrors game state into Postgres. It is an external
// collaborator off the gameplay critical path: the session manager calls
// it best-effort, and only the history reads are served from here.
package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medquiz/kidneyrace/internal/domain"
	"github.com/medquiz/kidneyrace/internal/errors"
	"github.com/medquiz/kidneyrace/internal/game"
)

type Config struct {
	DB *pgxpool.Pool
}

type Postgres struct {
	db *pgxpool.Pool
}

var _ game.Store = (*Postgres)(nil)

func NewPostgres(c Config) *Postgres {
	return &Postgres{db: c.DB}
}

// Migrate creates the schema when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS game_sessions (
	session_id       UUID PRIMARY KEY,
	join_code        TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'waiting',
	current_question INTEGER NOT NULL DEFAULT -1,
	create_time      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS players (
	player_id    UUID PRIMARY KEY,
	session_id   UUID NOT NULL REFERENCES game_sessions(session_id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	team_index   INTEGER NOT NULL,
	score        INTEGER NOT NULL DEFAULT 0,
	is_connected BOOLEAN NOT NULL DEFAULT TRUE,
	joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS team_scores (
	session_id  UUID NOT NULL REFERENCES game_sessions(session_id) ON DELETE CASCADE,
	team_index  INTEGER NOT NULL,
	total_score INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, team_index)
);

CREATE TABLE IF NOT EXISTS player_answers (
	session_id       UUID NOT NULL,
	player_id        UUID NOT NULL,
	question_index   INTEGER NOT NULL,
	selected_option  INTEGER NOT NULL,
	is_correct       BOOLEAN NOT NULL,
	response_time_ms BIGINT NOT NULL,
	points_earned    INTEGER NOT NULL,
	create_time      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_players_session ON players(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_join_code ON game_sessions(join_code);
CREATE INDEX IF NOT EXISTS idx_answers_session ON player_answers(session_id);`

	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// InsertSession writes the session row and its five initial team rows in
// one transaction.
func (p *Postgres) InsertSession(ctx context.Context, s *domain.Session) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insSessionStmt = `INSERT INTO game_sessions (session_id, join_code, status, current_question) VALUES ($1, $2, $3, $4);`
		insTeamStmt    = `INSERT INTO team_scores (session_id, team_index, total_score) VALUES ($1, $2, 0);`
	)

	_, err = tx.Exec(ctx, insSessionStmt, s.SessionID, s.JoinCode, s.Status, s.CurrentQuestion)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	for i := range s.Teams {
		_, err = tx.Exec(ctx, insTeamStmt, s.SessionID, i)
		if err != nil {
			return fmt.Errorf("insert team %d: %w", i, err)
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) InsertPlayer(ctx context.Context, sessionID string, pl domain.Player) error {
	const stmt = `
INSERT INTO players (player_id, session_id, name, team_index, score, is_connected, joined_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := p.db.Exec(ctx, stmt, pl.PlayerID, sessionID, pl.Name, pl.Team, pl.Score, pl.Connected, pl.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (p *Postgres) RemovePlayer(ctx context.Context, sessionID, playerID string) error {
	const stmt = `DELETE FROM players WHERE session_id = $1 AND player_id = $2;`

	_, err := p.db.Exec(ctx, stmt, sessionID, playerID)
	if err != nil {
		return fmt.Errorf("remove player: %w", err)
	}
	return nil
}

func (p *Postgres) SetPlayerConnected(ctx context.Context, sessionID, playerID string, connected bool) error {
	const stmt = `UPDATE players SET is_connected = $3 WHERE session_id = $1 AND player_id = $2;`

	_, err := p.db.Exec(ctx, stmt, sessionID, playerID, connected)
	if err != nil {
		return fmt.Errorf("set player connected: %w", err)
	}
	return nil
}

// AddScore increments the player's and their team's aggregate score. The
// caller guarantees at-most-once delivery per answer; a replay here would
// double-count.
func (p *Postgres) AddScore(ctx context.Context, sessionID, playerID string, team, points int) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		updPlayerStmt = `UPDATE players SET score = score + $3 WHERE session_id = $1 AND player_id = $2;`
		updTeamStmt   = `UPDATE team_scores SET total_score = total_score + $3 WHERE session_id = $1 AND team_index = $2;`
	)

	if _, err = tx.Exec(ctx, updPlayerStmt, sessionID, playerID, points); err != nil {
		return fmt.Errorf("update player score: %w", err)
	}
	if _, err = tx.Exec(ctx, updTeamStmt, sessionID, team, points); err != nil {
		return fmt.Errorf("update team score: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) InsertAnswer(ctx context.Context, rec domain.AnswerRecord) error {
	const stmt = `
INSERT INTO player_answers (session_id, player_id, question_index, selected_option, is_correct, response_time_ms, points_earned)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := p.db.Exec(ctx, stmt,
		rec.SessionID, rec.PlayerID, rec.Question, rec.Option, rec.IsCorrect, rec.ResponseTime.Milliseconds(), rec.Points)
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateSessionState(ctx context.Context, sessionID string, status domain.Status, currentQuestion int) error {
	const stmt = `UPDATE game_sessions SET status = $2, current_question = $3 WHERE session_id = $1;`

	_, err := p.db.Exec(ctx, stmt, sessionID, status, currentQuestion)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return nil
}

func (p *Postgres) ResetScores(ctx context.Context, sessionID string) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		resetPlayersStmt = `UPDATE players SET score = 0 WHERE session_id = $1;`
		resetTeamsStmt   = `UPDATE team_scores SET total_score = 0 WHERE session_id = $1;`
	)

	if _, err = tx.Exec(ctx, resetPlayersStmt, sessionID); err != nil {
		return fmt.Errorf("reset player scores: %w", err)
	}
	if _, err = tx.Exec(ctx, resetTeamsStmt, sessionID); err != nil {
		return fmt.Errorf("reset team scores: %w", err)
	}

	return tx.Commit(ctx)
}

// SessionByJoinCode serves the read-only history path for sessions no
// longer held in memory.
func (p *Postgres) SessionByJoinCode(ctx context.Context, joinCode string) (*domain.Session, error) {
	const stmt = `
SELECT session_id, join_code, status, current_question
FROM game_sessions WHERE join_code = $1
ORDER BY create_time DESC LIMIT 1;`

	var s domain.Session
	err := p.db.QueryRow(ctx, stmt, joinCode).Scan(&s.SessionID, &s.JoinCode, &s.Status, &s.CurrentQuestion)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: code=%s", joinCode))
	}
	if err != nil {
		return nil, fmt.Errorf("select session by join code: %w", err)
	}

	s.Players, err = p.listPlayers(ctx, s.SessionID)
	if err != nil {
		return nil, err
	}

	s.Teams, err = p.listTeams(ctx, s.SessionID, s.Players)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// listTeams rebuilds the five-team layout from the team_scores rows and
// the player roster, mirroring the shape the live path serves.
func (p *Postgres) listTeams(ctx context.Context, sessionID string, players []domain.Player) ([]domain.Team, error) {
	const stmt = `SELECT team_index, total_score FROM team_scores WHERE session_id = $1;`

	teams := domain.DefaultTeams()

	rows, err := p.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select team scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx, score int
		if err := rows.Scan(&idx, &score); err != nil {
			return nil, fmt.Errorf("scan team score: %w", err)
		}
		if idx >= 0 && idx < len(teams) {
			teams[idx].Score = score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect team scores: %w", err)
	}

	for _, pl := range players {
		if pl.Team >= 0 && pl.Team < len(teams) {
			teams[pl.Team].Members = append(teams[pl.Team].Members, pl.PlayerID)
		}
	}

	return teams, nil
}

func (p *Postgres) listPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	const stmt = `
SELECT player_id, name, team_index, score, is_connected, joined_at
FROM players WHERE session_id = $1
ORDER BY joined_at;`

	rows, err := p.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}

	players, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		var pl domain.Player
		err := r.Scan(&pl.PlayerID, &pl.Name, &pl.Team, &pl.Score, &pl.Connected, &pl.JoinedAt)
		return pl, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect players: %w", err)
	}

	return players, nil
}
