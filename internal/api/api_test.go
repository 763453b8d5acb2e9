package api_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/victornm/econtest/internal/api"
	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/event"
	"github.com/victornm/econtest/internal/form"
	"github.com/victornm/econtest/internal/identity"
	"github.com/victornm/econtest/internal/score"
	"github.com/victornm/econtest/internal/seed"
	"github.com/victornm/econtest/internal/stepstore"
	"github.com/victornm/econtest/internal/store/memory"
	"github.com/victornm/econtest/internal/wizard"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	srv     *httptest.Server
	auth    *identity.Authenticator
	catalog *catalog.Service
	seeded  *seed.Result
	eb      *event.Bus
	redis   *redis.Client
}

func setup(t *testing.T, opts ...func(*api.Config)) *env {
	t.Helper()

	store := memory.NewStore()
	eb := event.NewBus()
	cs := catalog.NewService(catalog.Config{Store: store})

	res, err := seed.Apply(context.Background(), cs, seed.Default())
	require.NoError(t, err)

	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := &env{
		auth:    identity.New(identity.Config{Secret: "secret", Cookie: "auth"}),
		catalog: cs,
		seeded:  res,
		eb:      eb,
		redis:   rdb,
	}

	engine := gin.New()
	c := api.Config{
		Engine:       engine,
		EventBus:     eb,
		Catalog:      cs,
		Wizard:       wizard.NewService(wizard.Config{Catalog: cs, Store: store, EventBus: eb}),
		Score:        score.NewService(score.Config{Catalog: cs, Store: store, EventBus: eb}),
		Steps:        stepstore.NewCookies(stepstore.CookieConfig{}),
		Auth:         e.auth,
		Redis:        rdb,
		PubsubPrefix: "test",
	}
	for _, opt := range opts {
		opt(&c)
	}
	api.New(c)

	e.srv = httptest.NewServer(engine)
	t.Cleanup(e.srv.Close)

	return e
}

// client keeps cookies between requests and does not follow redirects.
func (e *env) client(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *env) url(path string) string {
	return e.srv.URL + path
}

func (e *env) choice(q, c int) string {
	return strconv.FormatInt(e.seeded.Choice(q, c).ID, 10)
}

func get(t *testing.T, c *http.Client, u string, header ...string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, u, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	return do(t, c, req)
}

func post(t *testing.T, c *http.Client, u string, v url.Values) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, u, strings.NewReader(v.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return do(t, c, req)
}

func do(t *testing.T, c *http.Client, req *http.Request) (*http.Response, string) {
	t.Helper()

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(b)
}

// answerAll walks the three question steps with correct answers.
func (e *env) answerAll(t *testing.T, c *http.Client) {
	t.Helper()

	steps := []url.Values{
		{"choice": {e.choice(1, 3)}},
		{"choice": {e.choice(2, 3)}, form.TextField(e.seeded.Choice(2, 3).ID): {"Maple"}},
		{"choice": {e.choice(3, 3)}},
	}
	next := []string{
		"/contests/autumn-quiz/question/2/",
		"/contests/autumn-quiz/question/3/",
		"/contests/autumn-quiz/contestant/",
	}

	for i, v := range steps {
		resp, _ := post(t, c, e.url("/contests/autumn-quiz/question/"+strconv.Itoa(i+1)+"/"), v)
		require.Equal(t, http.StatusFound, resp.StatusCode, "step %d", i+1)
		require.Equal(t, next[i], resp.Header.Get("Location"))
	}
}

func contestantForm(email string) url.Values {
	return url.Values{
		"name":    {"Jan"},
		"surname": {"Novak"},
		"email":   {email},
		"address": {"Main 1"},
	}
}

func TestAPI_Wizard(t *testing.T) {
	e := setup(t)
	c := e.client(t)

	resp, body := get(t, c, e.url("/contests/autumn-quiz/"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Autumn quiz")
	assert.Contains(t, body, `href="/contests/autumn-quiz/question/1/"`)

	resp, _ = get(t, c, e.url("/contests/autumn-quiz/question/2/"))
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/contests/autumn-quiz/question/1/", resp.Header.Get("Location"))

	resp, body = get(t, c, e.url("/contests/autumn-quiz/question/1/"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<!DOCTYPE html>")
	assert.Contains(t, body, "Question 1 of 3")

	resp, body = get(t, c, e.url("/contests/autumn-quiz/question/1/"), "X-Requested-With", "XMLHttpRequest")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "<!DOCTYPE html>", "asynchronous requests get the fragment")
	assert.Contains(t, body, "Question 1 of 3")

	resp, body = post(t, c, e.url("/contests/autumn-quiz/question/1/"), url.Values{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "This field is required.")

	e.answerAll(t, c)

	resp, body = post(t, c, e.url("/contests/autumn-quiz/contestant/"), contestantForm("not-an-email"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Enter a valid email address.")
	assert.Contains(t, body, `value="Jan"`)

	sub := e.redis.Subscribe(context.Background(), "test:contest:"+strconv.FormatInt(e.seeded.Contest.ID, 10))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	resp, _ = post(t, c, e.url("/contests/autumn-quiz/contestant/"), contestantForm("Jan@Example.com"))
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/contests/autumn-quiz/result/", resp.Header.Get("Location"))

	select {
	case msg := <-sub.Channel():
		var n api.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, "contestant.finalized", n.Event)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification published")
	}

	resp, body = get(t, c, e.url("/contests/autumn-quiz/result/"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Winners are announced one week after the contest closes.")

	// storage was cleared, the wizard starts over
	resp, _ = get(t, c, e.url("/contests/autumn-quiz/contestant/"))
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/contests/autumn-quiz/question/1/", resp.Header.Get("Location"))

	// a second visitor with the same email is turned away
	other := e.client(t)
	e.answerAll(t, other)
	resp, body = post(t, other, e.url("/contests/autumn-quiz/contestant/"), contestantForm("jan@example.com"))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Your email is not unique, you probably already competed.")
}

func TestAPI_NotFound(t *testing.T) {
	e := setup(t)
	c := e.client(t)

	tests := map[string]string{
		"unknown contest":   "/contests/winter-quiz/",
		"step too high":     "/contests/autumn-quiz/question/4/",
		"step not a number": "/contests/autumn-quiz/question/x/",
	}

	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			resp, body := get(t, c, e.url(path))
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Contains(t, body, "Not Found")
		})
	}
}

func TestAPI_Staff(t *testing.T) {
	e := setup(t)

	visitor := e.client(t)
	e.answerAll(t, visitor)
	resp, _ := post(t, visitor, e.url("/contests/autumn-quiz/contestant/"), contestantForm("jan@example.com"))
	require.Equal(t, http.StatusFound, resp.StatusCode)
	e.eb.Stop()

	staffToken, err := e.auth.Issue(identity.User{ID: "s1", Staff: true}, time.Hour)
	require.NoError(t, err)
	visitorToken, err := e.auth.Issue(identity.User{ID: "v1"}, time.Hour)
	require.NoError(t, err)

	base := "/staff/contests/" + strconv.FormatInt(e.seeded.Contest.ID, 10)
	c := e.client(t)

	t.Run("access", func(t *testing.T) {
		resp, _ := get(t, c, e.url(base+"/summary"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, _ = get(t, c, e.url(base+"/summary"), "Authorization", "Bearer "+visitorToken)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("summary", func(t *testing.T) {
		resp, body := get(t, c, e.url(base+"/summary"), "Authorization", "Bearer "+staffToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var sum score.Summary
		require.NoError(t, json.Unmarshal([]byte(body), &sum))
		assert.Equal(t, 1, sum.Contestants)
		assert.Equal(t, 1, sum.AllCorrect)
		assert.Equal(t, 2, sum.Required)
	})

	t.Run("export csv", func(t *testing.T) {
		resp, body := get(t, c, e.url(base+"/export.csv?all_correct=1"), "Authorization", "Bearer "+staffToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Equal(t, `attachment; filename="autumn-quiz.csv"`, resp.Header.Get("Content-Disposition"))

		rows, err := csv.NewReader(strings.NewReader(body)).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, []string{"Jan", "Novak", "jan@example.com"}, rows[1][:3])
		assert.Equal(t, "Maple", rows[1][9])
	})

	t.Run("export xlsx", func(t *testing.T) {
		resp, body := get(t, c, e.url(base+"/export.xlsx"), "Authorization", "Bearer "+staffToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		f, err := excelize.OpenReader(bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		defer f.Close()

		rows, err := f.GetRows("Contestants")
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("unknown contest", func(t *testing.T) {
		for _, path := range []string{"/summary", "/ranking", "/export.csv"} {
			resp, _ := get(t, c, e.url("/staff/contests/999"+path), "Authorization", "Bearer "+staffToken)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		}
	})

	t.Run("winner through another contest", func(t *testing.T) {
		f := seed.Default()
		f.Slug = "winter-quiz"
		other, err := seed.Apply(context.Background(), e.catalog, f)
		require.NoError(t, err)

		_, body := get(t, c, e.url(base+"/ranking"), "Authorization", "Bearer "+staffToken)
		var ranking struct {
			Entries []api.RankingEntry `json:"entries"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &ranking))
		require.Len(t, ranking.Entries, 1)

		cid := strconv.FormatInt(ranking.Entries[0].ContestantID, 10)
		u := e.url("/staff/contests/" + strconv.FormatInt(other.Contest.ID, 10) + "/contestants/" + cid + "/winner")
		req, err := http.NewRequest(http.MethodPost, u, strings.NewReader(`{"winner":true}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+staffToken)
		req.Header.Set("Content-Type", "application/json")
		resp, _ := do(t, c, req)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		_, body = get(t, c, e.url(base+"/ranking"), "Authorization", "Bearer "+staffToken)
		require.NoError(t, json.Unmarshal([]byte(body), &ranking))
		assert.False(t, ranking.Entries[0].Winner)
	})

	t.Run("ranking and winner", func(t *testing.T) {
		resp, body := get(t, c, e.url(base+"/ranking"), "Authorization", "Bearer "+staffToken)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var ranking struct {
			Entries []api.RankingEntry `json:"entries"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &ranking))
		require.Len(t, ranking.Entries, 1)
		assert.Equal(t, 2, ranking.Entries[0].Correct)
		assert.False(t, ranking.Entries[0].Winner)

		cid := strconv.FormatInt(ranking.Entries[0].ContestantID, 10)
		req, err := http.NewRequest(http.MethodPost, e.url(base+"/contestants/"+cid+"/winner"), strings.NewReader(`{"winner":true}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+staffToken)
		req.Header.Set("Content-Type", "application/json")
		resp, _ = do(t, c, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		_, body = get(t, c, e.url(base+"/ranking"), "Authorization", "Bearer "+staffToken)
		require.NoError(t, json.Unmarshal([]byte(body), &ranking))
		assert.True(t, ranking.Entries[0].Winner)
	})

	t.Run("winner of unknown contestant", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, e.url(base+"/contestants/999/winner"), strings.NewReader(`{"winner":true}`))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+staffToken)
		resp, _ := do(t, c, req)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAPI_Live(t *testing.T) {
	e := setup(t)

	token, err := e.auth.Issue(identity.User{ID: "s1", Staff: true}, time.Hour)
	require.NoError(t, err)

	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/staff/contests/" + strconv.FormatInt(e.seeded.Contest.ID, 10) + "/live"

	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{"Authorization": {"Bearer " + token}})
	require.NoError(t, err)
	defer conn.Close()

	visitor := e.client(t)
	e.answerAll(t, visitor)
	resp, _ = post(t, visitor, e.url("/contests/autumn-quiz/contestant/"), contestantForm("jan@example.com"))
	require.Equal(t, http.StatusFound, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var n struct {
		Event string                  `json:"event"`
		Data  api.ContestantFinalized `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &n))
	assert.Equal(t, "contestant.finalized", n.Event)
	assert.Equal(t, e.seeded.Contest.ID, n.Data.ContestID)
	assert.Equal(t, 3, n.Data.Answers)
}

func TestAPI_StaffCORS(t *testing.T) {
	e := setup(t, func(c *api.Config) {
		c.StaffOrigins = []string{"https://staff.example.com"}
	})
	c := e.client(t)

	tests := map[string]struct {
		origin     string
		wantStatus int
		wantAllow  string
	}{
		"allowed origin": {origin: "https://staff.example.com", wantStatus: http.StatusNoContent, wantAllow: "https://staff.example.com"},
		"foreign origin": {origin: "https://evil.example.com", wantStatus: http.StatusForbidden},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodOptions, e.url("/staff/contests/1/summary"), nil)
			require.NoError(t, err)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			req.Header.Set("Access-Control-Request-Headers", "Authorization")

			resp, _ := do(t, c, req)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantAllow, resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}

	// public pages are untouched
	resp, _ := get(t, c, e.url("/contests/autumn-quiz/"), "Origin", "https://evil.example.com")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
