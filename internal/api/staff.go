package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/victornm/econtest/internal/errors"
	"github.com/victornm/econtest/internal/export"
	"github.com/victornm/econtest/internal/score"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (a *API) Summary(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		abortJSON(c, err)
		return
	}

	sum, err := a.ss.Summary(c.Request.Context(), id)
	if err != nil {
		abortJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, sum)
}

type RankingEntry struct {
	ContestantID int64  `json:"contestant_id"`
	Name         string `json:"name"`
	Surname      string `json:"surname"`
	Email        string `json:"email"`
	Created      string `json:"created"`
	Correct      int    `json:"correct"`
	Winner       bool   `json:"winner"`
}

func (a *API) Ranking(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		abortJSON(c, err)
		return
	}

	ranked, err := a.ss.Rank(c.Request.Context(), id)
	if err != nil {
		abortJSON(c, err)
		return
	}

	entries := make([]RankingEntry, 0, len(ranked))
	for _, r := range ranked {
		entries = append(entries, RankingEntry{
			ContestantID: r.Contestant.ID,
			Name:         r.Contestant.Name,
			Surname:      r.Contestant.Surname,
			Email:        r.Contestant.Email,
			Created:      r.Contestant.Created.UTC().Format(time.RFC3339),
			Correct:      r.Correct,
			Winner:       r.Contestant.Winner,
		})
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (a *API) exportTable(c *gin.Context) (*export.Table, bool) {
	id, err := idParam(c, "id")
	if err != nil {
		abortJSON(c, err)
		return nil, false
	}

	allCorrect, _ := strconv.ParseBool(c.DefaultQuery("all_correct", "false"))

	t, err := a.ss.Export(c.Request.Context(), score.ExportRequest{ContestID: id, AllCorrect: allCorrect})
	if err != nil {
		abortJSON(c, err)
		return nil, false
	}

	return t, true
}

func (a *API) ExportCSV(c *gin.Context) {
	t, ok := a.exportTable(c)
	if !ok {
		return
	}

	c.Header("Content-Type", contentTypeCSV)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, t.Name))
	c.Status(http.StatusOK)

	if err := export.WriteCSV(c.Writer, t); err != nil {
		_ = c.Error(err)
	}
}

func (a *API) ExportXLSX(c *gin.Context) {
	t, ok := a.exportTable(c)
	if !ok {
		return
	}

	c.Header("Content-Type", contentTypeXLSX)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, t.Name))
	c.Status(http.StatusOK)

	if err := export.WriteXLSX(c.Writer, t); err != nil {
		_ = c.Error(err)
	}
}

type SetWinnerRequest struct {
	Winner bool `json:"winner"`
}

func (a *API) SetWinner(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		abortJSON(c, err)
		return
	}

	cid, err := idParam(c, "cid")
	if err != nil {
		abortJSON(c, err)
		return
	}

	var req SetWinnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortJSON(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid body: %v", err)))
		return
	}

	if err := a.cs.SetWinner(c.Request.Context(), id, cid, req.Winner); err != nil {
		abortJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contestant_id": cid, "winner": req.Winner})
}

// Live streams finalize notifications of the contest over a websocket until either side closes.
func (a *API) Live(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		abortJSON(c, err)
		return
	}

	if a.redis == nil {
		abortJSON(c, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("live updates are not configured")))
		return
	}

	ctx := c.Request.Context()
	sub := a.redis.Subscribe(ctx, a.contestChannel(id))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		abortJSON(c, fmt.Errorf("api: subscribe: %w", err))
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(ctx, "api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	messages := sub.Channel()
	for {
		select {
		case <-closed:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				slog.DebugContext(ctx, "api: websocket write failed", "contest", id, "error", err)
				return
			}
		}
	}
}
