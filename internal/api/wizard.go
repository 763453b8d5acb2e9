package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/econtest/internal/errors"
	"github.com/victornm/econtest/internal/form"
	"github.com/victornm/econtest/internal/identity"
	"github.com/victornm/econtest/internal/wizard"
)

func (a *API) Detail(c *gin.Context) {
	slug := c.Param("slug")

	p, err := a.ws.Progress(c.Request.Context(), wizard.ProgressRequest{
		Slug:    slug,
		UserID:  identity.UserID(c),
		Session: a.session(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	u := urlsOf(slug)
	render(c, http.StatusOK, "detail", gin.H{
		"Contest":  p.Contest,
		"Progress": p,
		"Next":     u.target(p.Next),
		"URLs":     u,
	})
}

func (a *API) Question(c *gin.Context) {
	slug := c.Param("slug")

	n, err := stepParam(c)
	if err != nil {
		renderError(c, err)
		return
	}

	p, err := a.ws.Step(c.Request.Context(), wizard.StepRequest{
		Slug:    slug,
		Step:    n,
		Session: a.session(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	a.renderStep(c, slug, p)
}

func (a *API) SubmitQuestion(c *gin.Context) {
	slug := c.Param("slug")

	n, err := stepParam(c)
	if err != nil {
		renderError(c, err)
		return
	}

	if err := c.Request.ParseForm(); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed form"), errors.WithCause(err)))
		return
	}

	p, err := a.ws.SubmitStep(c.Request.Context(), wizard.SubmitStepRequest{
		Slug:    slug,
		Step:    n,
		Values:  c.Request.PostForm,
		Session: a.session(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	a.renderStep(c, slug, p)
}

func (a *API) renderStep(c *gin.Context, slug string, p *wizard.StepPage) {
	u := urlsOf(slug)
	if p.Decision.Redirect() {
		c.Redirect(http.StatusFound, u.target(p.Decision))
		return
	}

	render(c, http.StatusOK, "question", gin.H{
		"Contest": p.Contest,
		"Page":    p,
		"Action":  u.Step(p.Step),
	})
}

func (a *API) Contestant(c *gin.Context) {
	slug := c.Param("slug")

	p, err := a.ws.Contestant(c.Request.Context(), wizard.ContestantRequest{
		Slug:    slug,
		Session: a.session(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	a.renderContestant(c, slug, p)
}

func (a *API) SubmitContestant(c *gin.Context) {
	slug := c.Param("slug")

	var in form.ContestantInput
	if err := c.ShouldBind(&in); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed form"), errors.WithCause(err)))
		return
	}

	p, err := a.ws.Finalize(c.Request.Context(), wizard.FinalizeRequest{
		Slug:    slug,
		Input:   in,
		UserID:  identity.UserID(c),
		Session: a.session(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	a.renderContestant(c, slug, p)
}

type field struct {
	Name  string
	Label string
	Type  string
	Value string
	Error string
}

func contestantFields(p *wizard.ContestantPage) []field {
	fs := []field{
		{Name: "name", Label: "First name", Type: "text", Value: p.Input.Name},
		{Name: "surname", Label: "Last name", Type: "text", Value: p.Input.Surname},
		{Name: "email", Label: "Email", Type: "email", Value: p.Input.Email},
		{Name: "address", Label: "Address", Type: "text", Value: p.Input.Address},
		{Name: "phone_number", Label: "Phone number", Type: "tel", Value: p.Input.Phone},
	}
	for i := range fs {
		fs[i].Error = p.Errors[fs[i].Name]
	}

	return fs
}

func (a *API) renderContestant(c *gin.Context, slug string, p *wizard.ContestantPage) {
	u := urlsOf(slug)
	if p.Decision.Redirect() {
		c.Redirect(http.StatusFound, u.target(p.Decision))
		return
	}

	code := http.StatusOK
	if !p.Valid() {
		code = http.StatusUnprocessableEntity
	}

	render(c, code, "contestant", gin.H{
		"Contest": p.Contest,
		"Page":    p,
		"Action":  u.Contestant,
		"Fields":  contestantFields(p),
	})
}

func (a *API) Result(c *gin.Context) {
	p, err := a.ws.Result(c.Request.Context(), wizard.ResultRequest{
		Slug:    c.Param("slug"),
		UserID:  identity.UserID(c),
		Session: a.session(c),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	render(c, http.StatusOK, "result", gin.H{
		"Contest": p.Contest,
		"Page":    p,
	})
}

func (a *API) Conditions(c *gin.Context) {
	ct, err := a.ws.Contest(c.Request.Context(), c.Param("slug"))
	if err != nil {
		renderError(c, err)
		return
	}

	render(c, http.StatusOK, "conditions", gin.H{"Contest": ct})
}
