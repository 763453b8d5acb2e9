// Package postgres stores contests and finalized submissions in PostgreSQL.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/econtest/internal/domain"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// uniqueErrors maps the unique constraints of the schema to domain errors.
var uniqueErrors = map[string]error{
	"contests_slug_key":             domain.ErrDuplicateSlug,
	"questions_contest_order_key":   domain.ErrDuplicateOrder,
	"choices_question_order_key":    domain.ErrDuplicateOrder,
	"choices_one_correct_idx":       domain.ErrMultipleCorrectChoices,
	"contestants_contest_email_key": domain.ErrDuplicateEmail,
	"answers_contestant_choice_key": domain.ErrDuplicateAnswer,
}

type Config struct {
	DB *pgxpool.Pool
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(c Config) *Store {
	return &Store{db: c.DB}
}

// mapError turns pgx errors into domain errors, wrapping the original.
func mapError(err error, op string) error {
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			if derr, ok := uniqueErrors[pgErr.ConstraintName]; ok {
				return fmt.Errorf("%s: %w: %w", op, derr, err)
			}
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrNotFound, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func affected(tag pgconn.CommandTag, err error, op string) error {
	if err != nil {
		return mapError(err, op)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

const contestColumns = `id, title, slug, description, category, publish_from, publish_to, published,
	text, text_results, text_announcement, active_from, active_till`

func scanContest(row pgx.Row) (domain.Contest, error) {
	var c domain.Contest
	err := row.Scan(&c.ID, &c.Title, &c.Slug, &c.Description, &c.Category, &c.PublishFrom, &c.PublishTo, &c.Published,
		&c.Text, &c.TextResults, &c.TextAnnouncement, &c.ActiveFrom, &c.ActiveTill)
	return c, err
}

func (s *Store) ContestByID(ctx context.Context, id int64) (domain.Contest, error) {
	c, err := scanContest(s.db.QueryRow(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = $1`, id))
	if err != nil {
		return domain.Contest{}, mapError(err, "select contest")
	}

	return c, nil
}

func (s *Store) ContestBySlug(ctx context.Context, slug string) (domain.Contest, error) {
	c, err := scanContest(s.db.QueryRow(ctx, `SELECT `+contestColumns+` FROM contests WHERE slug = $1`, slug))
	if err != nil {
		return domain.Contest{}, mapError(err, "select contest")
	}

	return c, nil
}

// ListContests orders by active_from descending, contests without a start last.
func (s *Store) ListContests(ctx context.Context) ([]domain.Contest, error) {
	rows, err := s.db.Query(ctx, `SELECT `+contestColumns+` FROM contests ORDER BY active_from DESC NULLS LAST, id`)
	if err != nil {
		return nil, mapError(err, "select contests")
	}

	cs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Contest, error) {
		return scanContest(row)
	})
	if err != nil {
		return nil, mapError(err, "scan contests")
	}

	return cs, nil
}

func (s *Store) InsertContest(ctx context.Context, c *domain.Contest) error {
	const stmt = `INSERT INTO contests (title, slug, description, category, publish_from, publish_to, published,
		text, text_results, text_announcement, active_from, active_till)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`

	err := s.db.QueryRow(ctx, stmt, c.Title, c.Slug, c.Description, c.Category, c.PublishFrom, c.PublishTo, c.Published,
		c.Text, c.TextResults, c.TextAnnouncement, c.ActiveFrom, c.ActiveTill).Scan(&c.ID)
	if err != nil {
		return mapError(err, "insert contest")
	}

	return nil
}

const questionColumns = `id, contest_id, "order", text, photo, is_required`

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var q domain.Question
	err := row.Scan(&q.ID, &q.ContestID, &q.Order, &q.Text, &q.Photo, &q.IsRequired)
	return q, err
}

func (s *Store) QuestionByID(ctx context.Context, id int64) (domain.Question, error) {
	q, err := scanQuestion(s.db.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
	if err != nil {
		return domain.Question{}, mapError(err, "select question")
	}

	return q, nil
}

func (s *Store) ListQuestions(ctx context.Context, contestID int64) ([]domain.Question, error) {
	rows, err := s.db.Query(ctx, `SELECT `+questionColumns+` FROM questions WHERE contest_id = $1 ORDER BY "order"`, contestID)
	if err != nil {
		return nil, mapError(err, "select questions")
	}

	qs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Question, error) {
		return scanQuestion(row)
	})
	if err != nil {
		return nil, mapError(err, "scan questions")
	}

	return qs, nil
}

func (s *Store) InsertQuestion(ctx context.Context, q *domain.Question) error {
	const stmt = `INSERT INTO questions (contest_id, "order", text, photo, is_required)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	if err := s.db.QueryRow(ctx, stmt, q.ContestID, q.Order, q.Text, q.Photo, q.IsRequired).Scan(&q.ID); err != nil {
		return mapError(err, "insert question")
	}

	return nil
}

func (s *Store) UpdateQuestion(ctx context.Context, q domain.Question) error {
	const stmt = `UPDATE questions SET contest_id = $2, "order" = $3, text = $4, photo = $5, is_required = $6 WHERE id = $1`

	tag, err := s.db.Exec(ctx, stmt, q.ID, q.ContestID, q.Order, q.Text, q.Photo, q.IsRequired)
	return affected(tag, err, "update question")
}

// DeleteQuestion removes the question with its choices and the answers pointing at them.
func (s *Store) DeleteQuestion(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	return affected(tag, err, "delete question")
}

const choiceColumns = `id, question_id, "order", text, is_correct, inserted_by_user`

func scanChoice(row pgx.Row) (domain.Choice, error) {
	var c domain.Choice
	err := row.Scan(&c.ID, &c.QuestionID, &c.Order, &c.Text, &c.IsCorrect, &c.InsertedByUser)
	return c, err
}

func (s *Store) ChoiceByID(ctx context.Context, id int64) (domain.Choice, error) {
	c, err := scanChoice(s.db.QueryRow(ctx, `SELECT `+choiceColumns+` FROM choices WHERE id = $1`, id))
	if err != nil {
		return domain.Choice{}, mapError(err, "select choice")
	}

	return c, nil
}

func (s *Store) ListChoices(ctx context.Context, questionID int64) ([]domain.Choice, error) {
	rows, err := s.db.Query(ctx, `SELECT `+choiceColumns+` FROM choices WHERE question_id = $1 ORDER BY "order"`, questionID)
	if err != nil {
		return nil, mapError(err, "select choices")
	}

	cs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Choice, error) {
		return scanChoice(row)
	})
	if err != nil {
		return nil, mapError(err, "scan choices")
	}

	return cs, nil
}

func (s *Store) InsertChoice(ctx context.Context, c *domain.Choice) error {
	const stmt = `INSERT INTO choices (question_id, "order", text, is_correct, inserted_by_user)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	if err := s.db.QueryRow(ctx, stmt, c.QuestionID, c.Order, c.Text, c.IsCorrect, c.InsertedByUser).Scan(&c.ID); err != nil {
		return mapError(err, "insert choice")
	}

	return nil
}

func (s *Store) UpdateChoice(ctx context.Context, c domain.Choice) error {
	const stmt = `UPDATE choices SET question_id = $2, "order" = $3, text = $4, is_correct = $5, inserted_by_user = $6 WHERE id = $1`

	tag, err := s.db.Exec(ctx, stmt, c.ID, c.QuestionID, c.Order, c.Text, c.IsCorrect, c.InsertedByUser)
	return affected(tag, err, "update choice")
}

func (s *Store) DeleteChoice(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM choices WHERE id = $1`, id)
	return affected(tag, err, "delete choice")
}
