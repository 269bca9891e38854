package records

import (
	"context"
	"time"

	"estimate_backend/internal/email"
	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/questionflow"
	"estimate_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

// RowAppender is the spreadsheet side of the sink.
type RowAppender interface {
	AppendRow(ctx context.Context, columns []string) error
}

// AdminNotifier is the mail side of the sink.
type AdminNotifier interface {
	SendAdminNotification(ctx context.Context, subject, htmlBody string, attachments []email.Attachment) error
}

// Sink fans a lead out to every configured back-office channel.
type Sink struct {
	flow  *questionflow.Flow
	rows  RowAppender
	mail  AdminNotifier
	log   *logger.Logger
	clock func() time.Time
}

// New builds a sink. Either channel may be nil.
func New(flow *questionflow.Flow, rows RowAppender, mail AdminNotifier, log *logger.Logger) *Sink {
	return &Sink{flow: flow, rows: rows, mail: mail, log: log, clock: time.Now}
}

// Record writes the row and sends the admin mail concurrently. Failures are
// logged and never returned.
func (s *Sink) Record(ctx context.Context, lead repository.Lead, photos []email.Attachment) {
	var g errgroup.Group

	if s.rows != nil {
		row := BuildRow(s.flow, lead, s.clock())
		g.Go(func() error {
			if err := s.rows.AppendRow(ctx, row); err != nil {
				s.log.SideChannelFailure("sheets", lead.ID, err)
			}
			return nil
		})
	}

	if s.mail != nil {
		g.Go(func() error {
			subject, body, err := email.RenderLeadDetails(BuildNotification(s.flow, lead, s.clock()))
			if err != nil {
				s.log.SideChannelFailure("mail", lead.ID, err)
				return nil
			}
			if err := s.mail.SendAdminNotification(ctx, subject, body, photos); err != nil {
				s.log.SideChannelFailure("mail", lead.ID, err)
			}
			return nil
		})
	}

	_ = g.Wait()
}
