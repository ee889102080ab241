// Package mail delivers one-time codes and reset tokens out of band.
package mail

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Mailer sends messages to principals. The session layer depends on this
// interface, not on a transport.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// LogMailer writes messages to the structured log instead of sending them.
// It is the development default; deployments substitute a real transport.
type LogMailer struct{}

// NewLogMailer creates a LogMailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) SendOTP(_ context.Context, to, code string) error {
	log.Info().Str("to", to).Str("code", code).Msg("verification code (dev mailer)")
	return nil
}

func (m *LogMailer) SendPasswordReset(_ context.Context, to, token string) error {
	log.Info().Str("to", to).Str("token", token).Msg("password reset token (dev mailer)")
	return nil
}
