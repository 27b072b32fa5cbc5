package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-coding-session/internal/models"
)

// SectionCompletionNotifier tells the parent test session that the coding section is done.
type SectionCompletionNotifier interface {
	NotifySectionCompleted(ctx context.Context, key models.SessionKey, completedAt time.Time) error
}

// SectionCompletedMessage is the payload published on completion.
type SectionCompletedMessage struct {
	TestID      string    `json:"test_id"`
	CandidateID string    `json:"candidate_id"`
	Section     string    `json:"section"`
	CompletedAt time.Time `json:"completed_at"`
}

type natsSectionNotifier struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSSectionNotifier publishes completions on "<channel base>.coding.completed". A nil
// connection only logs.
func NewNATSSectionNotifier(conn *nats.Conn, channelBase string, logger zerolog.Logger) SectionCompletionNotifier {
	subject := "coding.completed"
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".coding.completed"
	}
	return &natsSectionNotifier{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "section_notifier").Logger(),
	}
}

func (n *natsSectionNotifier) NotifySectionCompleted(ctx context.Context, key models.SessionKey, completedAt time.Time) error {
	message := SectionCompletedMessage{
		TestID:      key.TestID,
		CandidateID: key.CandidateID,
		Section:     "coding",
		CompletedAt: completedAt.UTC(),
	}

	if n.conn == nil {
		n.logger.Info().
			Str("test_id", key.TestID).
			Str("candidate_id", key.CandidateID).
			Msg("coding section completed")
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		n.logger.Warn().Err(err).Str("subject", n.subject).Msg("failed to publish section completion")
		return err
	}
	return nil
}
