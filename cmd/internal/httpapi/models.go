package httpapi

import (
	"time"

	"portal/cmd/internal/dashboard"
	"portal/cmd/internal/notice"
	"portal/cmd/internal/profile"
)

type signInRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=1024"`
	Platform string `json:"platform" validate:"omitempty,oneof=web ios android desktop"`
}

type acceptRequest struct {
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type inviteRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type messageRequest struct {
	Content string `json:"content" validate:"required"`
}

type sessionResponse struct {
	SessionID   string    `json:"session_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type profileResponse struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	IsAdmin  bool   `json:"is_admin"`
}

type entryResponse struct {
	View      dashboard.View           `json:"view"`
	Profile   *profileResponse         `json:"profile,omitempty"`
	Dashboard *dashboard.AdminSnapshot `json:"dashboard,omitempty"`
	Messages  []dashboard.MessageView  `json:"messages,omitempty"`
	Notice    *notice.Notice           `json:"notice,omitempty"`
}

type signInResponse struct {
	Session  sessionResponse  `json:"session"`
	Profile  *profileResponse `json:"profile"`
	Redirect string           `json:"redirect"`
	Notice   *notice.Notice   `json:"notice"`
}

type redirectResponse struct {
	Redirect string         `json:"redirect"`
	Notice   *notice.Notice `json:"notice,omitempty"`
}

type feedResponse struct {
	Messages []dashboard.MessageView `json:"messages"`
}

func toProfileResponse(p *profile.Profile) *profileResponse {
	if p == nil {
		return nil
	}
	out := &profileResponse{ID: p.ID, Role: string(p.Role), IsAdmin: p.IsAdmin()}
	if p.FullName != nil {
		out.FullName = *p.FullName
	}
	return out
}
