package stepstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/econtest/internal/domain"
)

const (
	visitorCookie = "contests_visitor"

	fieldLastStep = "last_step"
	fieldInvalid  = "invalid"
)

type RedisConfig struct {
	Client redis.UniversalClient
	Prefix string
	Cookie CookieConfig
}

// Redis keeps progress server side in one hash per visitor and contest.
// The browser only holds a random visitor token.
type Redis struct {
	client redis.UniversalClient
	prefix string
	c      CookieConfig
}

func NewRedis(c RedisConfig) *Redis {
	return &Redis{
		client: c.Client,
		prefix: c.Prefix,
		c:      c.Cookie.withDefaults(),
	}
}

func (b *Redis) Open(w http.ResponseWriter, r *http.Request) Session {
	s := &redisSession{b: b, w: w}

	if ck, err := r.Cookie(visitorCookie); err == nil {
		if id, err := uuid.Parse(ck.Value); err == nil {
			s.token = id.String()
		}
	}

	return s
}

type redisSession struct {
	b     *Redis
	w     http.ResponseWriter
	token string
}

func (s *redisSession) key(contestID int64) string {
	return fmt.Sprintf("%s:steps:%s:%d", s.b.prefix, s.token, contestID)
}

func stepField(questionID int64) string {
	return "step:" + strconv.FormatInt(questionID, 10)
}

// ensureToken issues a visitor token on first write.
func (s *redisSession) ensureToken() error {
	if s.token != "" {
		return nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("stepstore: generate visitor token: %w", err)
	}

	s.token = id.String()
	http.SetCookie(s.w, s.b.c.cookie(visitorCookie, s.token, s.b.c.MaxAge))
	return nil
}

func (s *redisSession) hget(ctx context.Context, contestID int64, field string) (string, bool, error) {
	if s.token == "" {
		return "", false, nil
	}

	v, err := s.b.client.HGet(ctx, s.key(contestID), field).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("stepstore: hget %s: %w", field, err)
	}

	return v, true, nil
}

func (s *redisSession) hset(ctx context.Context, contestID int64, field, value string) error {
	if err := s.ensureToken(); err != nil {
		return err
	}

	key := s.key(contestID)
	_, err := s.b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, field, value)
		p.Expire(ctx, key, s.b.c.MaxAge)
		return nil
	})
	if err != nil {
		return fmt.Errorf("stepstore: hset %s: %w", field, err)
	}

	return nil
}

func (s *redisSession) StepData(ctx context.Context, contestID, questionID int64) (domain.Selection, bool, error) {
	raw, ok, err := s.hget(ctx, contestID, stepField(questionID))
	if err != nil || !ok {
		return domain.Selection{}, false, err
	}

	var v domain.Selection
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return domain.Selection{}, false, nil
	}

	return v, true, nil
}

func (s *redisSession) SetStepData(ctx context.Context, contestID, questionID int64, v domain.Selection) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stepstore: encode step data: %w", err)
	}

	return s.hset(ctx, contestID, stepField(questionID), string(b))
}

func (s *redisSession) LastCompletedStep(ctx context.Context, contestID int64) (int, bool, error) {
	raw, ok, err := s.hget(ctx, contestID, fieldLastStep)
	if err != nil || !ok {
		return 0, false, err
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false, nil
	}

	return n, true, nil
}

func (s *redisSession) SetLastCompletedStep(ctx context.Context, contestID int64, step int) error {
	return s.hset(ctx, contestID, fieldLastStep, strconv.Itoa(step))
}

func (s *redisSession) AnswersInvalid(ctx context.Context, contestID int64) (bool, error) {
	raw, ok, err := s.hget(ctx, contestID, fieldInvalid)
	return ok && raw == "1", err
}

func (s *redisSession) SetAnswersInvalid(ctx context.Context, contestID int64, invalid bool) error {
	if invalid {
		return s.hset(ctx, contestID, fieldInvalid, "1")
	}

	if s.token == "" {
		return nil
	}

	if err := s.b.client.HDel(ctx, s.key(contestID), fieldInvalid).Err(); err != nil {
		return fmt.Errorf("stepstore: hdel %s: %w", fieldInvalid, err)
	}

	return nil
}

func (s *redisSession) ClearAll(ctx context.Context, contestID int64) error {
	if s.token == "" {
		return nil
	}

	if err := s.b.client.Del(ctx, s.key(contestID)).Err(); err != nil {
		return fmt.Errorf("stepstore: clear: %w", err)
	}

	return nil
}

// TTL reports the remaining lifetime of the visitor's progress.
func (s *redisSession) TTL(ctx context.Context, contestID int64) (time.Duration, error) {
	if s.token == "" {
		return 0, nil
	}

	return s.b.client.TTL(ctx, s.key(contestID)).Result()
}
