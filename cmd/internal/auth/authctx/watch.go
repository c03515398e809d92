package authctx

import "portal/cmd/internal/auth/session"

func (c *Context) startWatcher() {
	c.mu.Lock()
	if c.sub != nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.sub = c.deps.Sessions.Subscribe()
	sub := c.sub
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.stop:
				return
			case <-sub.Done():
				return
			case ev := <-sub.C():
				c.onEvent(ev)
			}
		}
	}()
}

// onEvent follows notifications about the session this context holds. Every
// sign-in mints a new session ID, so only sign-out can concern a held session;
// expiry publishes nothing and is left to holders that outlive a request.
func (c *Context) onEvent(ev session.Event) {
	if ev.Kind != session.EventSignedOut {
		return
	}
	c.mu.RLock()
	sid := ""
	if c.st.Session != nil {
		sid = c.st.Session.ID
	}
	c.mu.RUnlock()

	if sid == "" || ev.SessionID != sid {
		return
	}
	c.log.Info("authctx.session.ended", "session_id", sid)
	c.clear()
}
