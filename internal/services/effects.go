package services

import (
	"context"
	"fmt"
	"time"

	"github.com/lukateg/starter-kit/pkg/logger"
)

// EffectKind names a best-effort side effect emitted after a state change.
type EffectKind string

const (
	EffectInvitationEmail    EffectKind = "invitation_email"
	EffectInvitationAccepted EffectKind = "invitation_accepted"
	EffectLowBalance         EffectKind = "low_balance"
	EffectReferralReward     EffectKind = "referral_reward"
)

// Effect is a notification request. Payload keys depend on Kind.
type Effect struct {
	Kind    EffectKind        `json:"kind"`
	UserID  string            `json:"user_id,omitempty"`
	Email   string            `json:"email,omitempty"`
	Subject string            `json:"subject"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Effects is the outbound port for notifications and emails.
type Effects interface {
	Notify(ctx context.Context, e *Effect) error
}

// NoopEffects drops every effect.
type NoopEffects struct{}

func (NoopEffects) Notify(context.Context, *Effect) error { return nil }

// SafeNotify hands e to effects and swallows any failure. It must only be
// called after the state change it reports has committed.
func SafeNotify(ctx context.Context, effects Effects, e *Effect) {
	if effects == nil || e == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			effectDeliveries.WithLabelValues(string(e.Kind), "panic").Inc()
			logger.Warn().Str("kind", string(e.Kind)).Interface("panic", r).Msg("effect dispatch panicked")
		}
	}()
	if err := effects.Notify(ctx, e); err != nil {
		effectDeliveries.WithLabelValues(string(e.Kind), "dispatch_failed").Inc()
		logger.Warn().Err(err).
			Str("kind", string(e.Kind)).
			Str("user_id", e.UserID).
			Msg("effect dispatch failed")
		return
	}
	effectDeliveries.WithLabelValues(string(e.Kind), "dispatched").Inc()
}

func invitationEmailEffect(projectName, email, inviterName, acceptURL string, expiresAt time.Time) *Effect {
	return &Effect{
		Kind:    EffectInvitationEmail,
		Email:   email,
		Subject: fmt.Sprintf("You have been invited to join %s", projectName),
		Payload: map[string]string{
			"project_name": projectName,
			"inviter_name": inviterName,
			"accept_url":   acceptURL,
			"expires_at":   expiresAt.UTC().Format("2006-01-02"),
		},
	}
}
