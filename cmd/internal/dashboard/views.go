package dashboard

import (
	"time"

	"portal/cmd/internal/invite"
	"portal/cmd/internal/message"
	"portal/cmd/internal/profile"
)

type ProfileView struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type InvitationView struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

type MessageView struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func profileView(p profile.Profile) ProfileView {
	v := ProfileView{ID: p.ID, Role: string(p.Role), CreatedAt: p.CreatedAt}
	if p.FullName != nil {
		v.FullName = *p.FullName
	}
	return v
}

func invitationView(inv invite.Invitation, now time.Time) InvitationView {
	return InvitationView{
		ID:         inv.ID,
		Email:      inv.Email,
		Status:     inv.Status(now),
		CreatedAt:  inv.CreatedAt,
		ExpiresAt:  inv.ExpiresAt,
		AcceptedAt: inv.AcceptedAt,
	}
}

// MessageViewOf converts a stored message.
func MessageViewOf(m message.Message) MessageView {
	v := MessageView{ID: m.ID, Content: m.Content, CreatedAt: m.CreatedAt}
	if m.CreatedBy != nil {
		v.CreatedBy = *m.CreatedBy
	}
	return v
}

func messageViews(msgs []message.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageViewOf(m))
	}
	return out
}
