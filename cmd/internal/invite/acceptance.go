package invite

import (
	"fmt"

	"portal/cmd/internal/notice"
)

// AcceptState is a step of the acceptance flow for one token.
type AcceptState string

const (
	StateLoading    AcceptState = "loading"
	StateValid      AcceptState = "valid"
	StateInvalid    AcceptState = "invalid"
	StateExpired    AcceptState = "expired"
	StateSubmitting AcceptState = "submitting"
	StateAccepted   AcceptState = "accepted"
	StateFailed     AcceptState = "failed"
)

// transitions: loading -> {valid, invalid, expired}; valid -> submitting -> {accepted, failed}.
// A submission that finds the invitation closed moves to invalid or expired.
var transitions = map[AcceptState][]AcceptState{
	StateLoading:    {StateValid, StateInvalid, StateExpired},
	StateValid:      {StateSubmitting},
	StateSubmitting: {StateAccepted, StateFailed, StateInvalid, StateExpired},
	StateFailed:     {StateSubmitting},
}

func canTransition(from, to AcceptState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Acceptance is the outcome of Open or Submit, rendered to the invitee.
type Acceptance struct {
	State        AcceptState    `json:"state"`
	InvitationID string         `json:"-"`
	Email        string         `json:"email,omitempty"`
	Redirect     string         `json:"redirect,omitempty"`
	Notice       *notice.Notice `json:"notice,omitempty"`
	Trace        []AcceptState  `json:"-"`
}

func (a Acceptance) to(next AcceptState) Acceptance {
	if !canTransition(a.State, next) {
		// Programming error; surface it rather than render a state the flow cannot reach.
		panic(fmt.Sprintf("invite: illegal transition %s -> %s", a.State, next))
	}
	a.State = next
	a.Trace = append(append([]AcceptState(nil), a.Trace...), next)
	return a
}

const (
	RedirectHome   = "/"
	RedirectSignIn = "/signin"

	msgInvalid  = "This invitation link is invalid or has already been used."
	msgExpired  = "This invitation has expired."
	msgRequired = "Please enter your name and a password."
	msgFailed   = "We could not create your account. Please try again."
	msgAccepted = "Your account is ready. Please sign in."
)
