// Package dashboard holds the server-side view models: the entry router,
// the admin dashboard and the guest feed.
package dashboard

import "portal/cmd/internal/auth/authctx"

// View names the screen the entry route renders.
type View string

const (
	ViewLoading View = "loading"
	ViewAdmin   View = "admin"
	ViewGuest   View = "guest"
	ViewSignIn  View = "signin"
	ViewWelcome View = "welcome"
)

// Route picks the view for a session state. A dashboard needs both a user and
// a profile; a signed-in user whose profile could not be resolved sees the
// signed-out views.
func Route(st authctx.State, showSignIn bool) View {
	switch {
	case st.Loading:
		return ViewLoading
	case st.Authenticated() && st.Profile != nil:
		if st.IsAdmin() {
			return ViewAdmin
		}
		return ViewGuest
	case showSignIn:
		return ViewSignIn
	default:
		return ViewWelcome
	}
}
