// Package api serves the contest wizard pages and the staff endpoints over HTTP.
package api

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/econtest/internal/catalog"
	"github.com/victornm/econtest/internal/domain"
	"github.com/victornm/econtest/internal/errors"
	"github.com/victornm/econtest/internal/event"
	"github.com/victornm/econtest/internal/identity"
	"github.com/victornm/econtest/internal/score"
	"github.com/victornm/econtest/internal/stepstore"
	"github.com/victornm/econtest/internal/wizard"
)

//go:embed templates/*.html
var templates embed.FS

type Config struct {
	Engine   *gin.Engine
	EventBus *event.Bus
	Catalog  *catalog.Service
	Wizard   *wizard.Service
	Score    *score.Service
	Steps    stepstore.Backend
	Auth     *identity.Authenticator
	// Redis carries finalize notifications and the staff live feed when set.
	Redis        redis.UniversalClient
	PubsubPrefix string
	// StaffOrigins are the browser origins allowed to call staff endpoints.
	StaffOrigins []string
}

type API struct {
	cs    *catalog.Service
	ws    *wizard.Service
	ss    *score.Service
	steps stepstore.Backend
	auth  *identity.Authenticator

	redis    redis.UniversalClient
	prefix   string
	upgrader websocket.Upgrader
}

func New(c Config) *API {
	a := &API{
		cs:     c.Catalog,
		ws:     c.Wizard,
		ss:     c.Score,
		steps:  c.Steps,
		auth:   c.Auth,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(c.StaffOrigins) > 0 {
		a.upgrader.CheckOrigin = func(r *http.Request) bool {
			return slices.Contains(c.StaffOrigins, r.Header.Get("Origin"))
		}
	}

	c.Engine.SetHTMLTemplate(template.Must(template.New("").ParseFS(templates, "templates/*.html")))

	public := c.Engine.Group("/contests/:slug", a.auth.Middleware())
	public.GET("/", a.Detail)
	public.GET("/question/:n/", a.Question)
	public.POST("/question/:n/", a.SubmitQuestion)
	public.GET("/contestant/", a.Contestant)
	public.POST("/contestant/", a.SubmitContestant)
	public.GET("/result/", a.Result)
	public.GET("/conditions/", a.Conditions)

	if len(c.StaffOrigins) > 0 {
		c.Engine.Use(staffCORS(c.StaffOrigins))
	}

	staff := c.Engine.Group("/staff/contests/:id", a.auth.Middleware(), identity.RequireStaff())
	staff.GET("/summary", a.Summary)
	staff.GET("/ranking", a.Ranking)
	staff.GET("/export.csv", a.ExportCSV)
	staff.GET("/export.xlsx", a.ExportXLSX)
	staff.POST("/contestants/:cid/winner", a.SetWinner)
	staff.GET("/live", a.Live)

	// Register event handlers
	if a.redis != nil && c.EventBus != nil {
		event.On(c.EventBus, domain.EventNameContestantFinalized, a.PublishContestantFinalized)
		event.On(c.EventBus, domain.EventNameLeaderboardUpdated, a.PublishLeaderboardUpdated)
	}

	return a
}

// staffCORS answers cross-origin staff requests, preflights included. It runs on the
// engine since preflights match no route.
func staffCORS(origins []string) gin.HandlerFunc {
	h := cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})

	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/staff/") {
			h(c)
		}
	}
}

// urls are the wizard locations of one contest.
type urls struct {
	Base       string
	Contestant string
	Result     string
	Conditions string
}

func urlsOf(slug string) urls {
	base := "/contests/" + slug + "/"
	return urls{
		Base:       base,
		Contestant: base + "contestant/",
		Result:     base + "result/",
		Conditions: base + "conditions/",
	}
}

func (u urls) Step(n int) string {
	return fmt.Sprintf("%squestion/%d/", u.Base, n)
}

// target turns a redirect decision into a location.
func (u urls) target(d wizard.Decision) string {
	switch d.Action {
	case wizard.RedirectStep:
		return u.Step(d.Step)
	case wizard.RedirectContestant:
		return u.Contestant
	case wizard.RedirectResult:
		return u.Result
	default:
		return u.Base
	}
}

func isFragment(c *gin.Context) bool {
	return c.GetHeader("X-Requested-With") == "XMLHttpRequest"
}

// render writes the page template, or its fragment variant for asynchronous requests.
func render(c *gin.Context, code int, name string, data gin.H) {
	if isFragment(c) {
		name += ".fragment"
	}

	c.HTML(code, name+".html", data)
}

// renderError shows a page for errors met by visitors. Internal failures are logged and masked.
func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	msg := e.Message
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.Request.URL.Path, "error", err)
		msg = "Something went wrong, please try again later."
	}

	render(c, e.HTTPStatusCode(), "error", gin.H{
		"Status":  http.StatusText(e.HTTPStatusCode()),
		"Message": msg,
	})
}

// abortJSON answers staff endpoints with the coded error.
func abortJSON(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.Request.URL.Path, "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func (a *API) session(c *gin.Context) stepstore.Session {
	return a.steps.Open(c.Writer, c.Request)
}

func stepParam(c *gin.Context) (int, error) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		return 0, errors.New(errors.CodeNotFound, errors.WithMessagef("there is no such question in this contest"))
	}

	return n, nil
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid %s: %s", name, c.Param(name)))
	}

	return id, nil
}
