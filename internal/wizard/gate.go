// Package wizard walks a visitor through a contest one question per request and
// turns the stored answers into a contestant once the last step is submitted.
package wizard

// Action is what a request for a wizard step should do.
type Action int

const (
	Serve Action = iota
	RedirectStep
	RedirectContestant
	RedirectResult
	NotFound
)

func (a Action) String() string {
	switch a {
	case Serve:
		return "serve"
	case RedirectStep:
		return "redirect_step"
	case RedirectContestant:
		return "redirect_contestant"
	case RedirectResult:
		return "redirect_result"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Decision is the outcome of the step gate. Step is set for RedirectStep only.
type Decision struct {
	Action Action
	Step   int
}

func (d Decision) Redirect() bool {
	return d.Action == RedirectStep || d.Action == RedirectContestant || d.Action == RedirectResult
}

// Gate decides whether question step k of total may be served to a visitor whose
// last completed step is last. started is false when the wizard was never started.
func Gate(k, total, last int, started bool) Decision {
	if k < 1 || k > total {
		return Decision{Action: NotFound}
	}

	if !started {
		if k == 1 {
			return Decision{Action: Serve}
		}
		return Decision{Action: RedirectStep, Step: 1}
	}

	if k == last+1 {
		return Decision{Action: Serve}
	}

	return next(total, last)
}

// ContestantGate decides whether the contestant step may be served.
// It opens once every question step is completed.
func ContestantGate(total, last int, started bool) Decision {
	if total == 0 || (started && last >= total) {
		return Decision{Action: Serve}
	}

	if !started {
		return Decision{Action: RedirectStep, Step: 1}
	}

	return Decision{Action: RedirectStep, Step: last + 1}
}

func next(total, last int) Decision {
	if last+1 <= total {
		return Decision{Action: RedirectStep, Step: last + 1}
	}

	return Decision{Action: RedirectContestant}
}

// State is where a visitor stands in a contest.
type State int

const (
	NotStarted State = iota
	InProgress
	QuestionsComplete
	Finalized
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case QuestionsComplete:
		return "questions_complete"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// StateOf derives the visitor state from the stored pointer.
func StateOf(total, last int, started, finalized bool) State {
	switch {
	case finalized:
		return Finalized
	case !started:
		return NotStarted
	case last >= total:
		return QuestionsComplete
	default:
		return InProgress
	}
}
