package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/victornm/econtest/internal/domain"
)

const contestantColumns = `id, contest_id, user_id, name, surname, email, address, phone, winner, created`

func scanContestant(row pgx.Row) (domain.Contestant, error) {
	var c domain.Contestant
	err := row.Scan(&c.ID, &c.ContestID, &c.UserID, &c.Name, &c.Surname, &c.Email, &c.Address, &c.Phone, &c.Winner, &c.Created)
	return c, err
}

func (s *Store) ContestantExists(ctx context.Context, contestID int64, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contestants WHERE contest_id = $1 AND email = $2)`, contestID, email).Scan(&exists)
	if err != nil {
		return false, mapError(err, "select contestant email")
	}

	return exists, nil
}

func (s *Store) ContestantByUser(ctx context.Context, contestID int64, userID string) (domain.Contestant, error) {
	if userID == "" {
		return domain.Contestant{}, domain.ErrNotFound
	}

	const query = `SELECT ` + contestantColumns + ` FROM contestants
		WHERE contest_id = $1 AND user_id = $2 ORDER BY created LIMIT 1`

	c, err := scanContestant(s.db.QueryRow(ctx, query, contestID, userID))
	if err != nil {
		return domain.Contestant{}, mapError(err, "select contestant")
	}

	return c, nil
}

// CreateContestant inserts the contestant and its answers in one transaction.
func (s *Store) CreateContestant(ctx context.Context, c *domain.Contestant, answers []domain.Answer) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insContestantStmt = `INSERT INTO contestants (contest_id, user_id, name, surname, email, address, phone, winner, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`

	err = tx.QueryRow(ctx, insContestantStmt,
		c.ContestID, c.UserID, c.Name, c.Surname, c.Email, c.Address, c.Phone, c.Winner, c.Created,
	).Scan(&c.ID)
	if err != nil {
		return mapError(err, "insert contestant")
	}

	if err = s.insertAnswers(ctx, tx, c.ID, answers); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func (s *Store) insertAnswers(ctx context.Context, tx pgx.Tx, contestantID int64, answers []domain.Answer) (err error) {
	if len(answers) == 0 {
		return nil
	}

	const stmt = `INSERT INTO answers (contestant_id, choice_id, text) VALUES ($1, $2, $3) RETURNING id`

	b := &pgx.Batch{}
	for _, a := range answers {
		b.Queue(stmt, contestantID, a.ChoiceID, a.Text)
	}

	br := tx.SendBatch(ctx, b)
	defer func() {
		err = stderrors.Join(err, br.Close())
	}()

	for i := range answers {
		if err := br.QueryRow().Scan(&answers[i].ID); err != nil {
			return mapError(err, "insert answer")
		}
		answers[i].ContestantID = contestantID
	}

	return nil
}

// ListContestants orders by created descending.
func (s *Store) ListContestants(ctx context.Context, contestID int64) ([]domain.Contestant, error) {
	const query = `SELECT ` + contestantColumns + ` FROM contestants WHERE contest_id = $1 ORDER BY created DESC, id DESC`

	rows, err := s.db.Query(ctx, query, contestID)
	if err != nil {
		return nil, mapError(err, "select contestants")
	}

	cs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Contestant, error) {
		return scanContestant(row)
	})
	if err != nil {
		return nil, mapError(err, "scan contestants")
	}

	return cs, nil
}

func (s *Store) ListAnswers(ctx context.Context, contestID int64) ([]domain.Answer, error) {
	const query = `SELECT a.id, a.contestant_id, a.choice_id, a.text
		FROM answers a JOIN contestants c ON c.id = a.contestant_id
		WHERE c.contest_id = $1 ORDER BY a.id`

	rows, err := s.db.Query(ctx, query, contestID)
	if err != nil {
		return nil, mapError(err, "select answers")
	}

	as, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.Answer])
	if err != nil {
		return nil, mapError(err, "scan answers")
	}

	return as, nil
}

func (s *Store) SetWinner(ctx context.Context, contestID, contestantID int64, winner bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE contestants SET winner = $3 WHERE id = $2 AND contest_id = $1`, contestID, contestantID, winner)
	return affected(tag, err, "update contestant")
}
