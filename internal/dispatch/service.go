// Package dispatch sequences the send workflows: resolve addressees,
// resolve the body, deliver, then record what was delivered. Delivery
// always happens before any history write, and a failed history write
// never turns a delivered message into a failed send.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.io/infrasutra/mailmcp/internal/mailer"
	"github.io/infrasutra/mailmcp/internal/metrics"
	"github.io/infrasutra/mailmcp/internal/sse"
	"github.io/infrasutra/mailmcp/internal/store"
)

// Workflow names, shared with the tool surface and the metric labels.
const (
	WorkflowSendEmail       = "send_email"
	WorkflowSendToGroup     = "send_email_to_group"
	WorkflowSendTemplate    = "send_email_with_template"
	WorkflowEventInvitation = "send_event_invitation"
)

// Delivery statuses.
const (
	StatusSent     = "sent"
	StatusDegraded = "degraded"
)

// EventDispatched is the server-sent event name for completed sends.
const EventDispatched = "dispatched"

// Mailer delivers one composed message.
type Mailer interface {
	Send(ctx context.Context, req mailer.Request) (mailer.Sent, error)
}

type Option func(*Service)

func WithHub(hub *sse.Hub) Option {
	return func(s *Service) {
		s.hub = hub
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	store   *store.Store
	mailer  Mailer
	hub     *sse.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func New(st *store.Store, m Mailer, opts ...Option) *Service {
	s := &Service{
		store:  st,
		mailer: m,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "dispatch")
	return s
}

// Store exposes the repository for read-only callers such as health checks.
func (s *Service) Store() *store.Store {
	return s.store
}

// Delivery is the result of a send workflow.
type Delivery struct {
	Status    string                `json:"status"`
	MessageID string                `json:"message_id"`
	From      string                `json:"from"`
	To        []string              `json:"to"`
	Subject   string                `json:"subject"`
	RecordID  int64                 `json:"record_id,omitempty"`
	EventID   int64                 `json:"event_id,omitempty"`
	Attendees []store.EventAttendee `json:"attendees,omitempty"`
	Warning   string                `json:"warning,omitempty"`
}

type dispatchedEvent struct {
	RecordID int64     `json:"record_id,omitempty"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	To       []string  `json:"to"`
	SentAt   time.Time `json:"sent_at"`
	Degraded bool      `json:"degraded"`
}

// persistFunc writes history for a delivered message. It receives the
// upserted recipients in envelope order.
type persistFunc func(ctx context.Context, delivery *Delivery, recipients []store.Recipient) error

// run delivers req and then persists it. Persistence runs detached from
// the caller's cancellation since the message is already out.
func (s *Service) run(ctx context.Context, workflow string, req mailer.Request, extra persistFunc) (Delivery, error) {
	started := s.now()
	sent, err := s.mailer.Send(ctx, req)
	if err != nil {
		s.metrics.ObserveDelivery(workflow, metrics.ResultFailed, s.now().Sub(started))
		return Delivery{}, err
	}
	took := s.now().Sub(started)

	delivery := Delivery{
		Status:    StatusSent,
		MessageID: sent.MessageID,
		From:      sent.From,
		To:        sent.To,
		Subject:   sent.Subject,
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := s.persist(persistCtx, sent, &delivery, extra); err != nil {
		s.logger.Error("record delivered message",
			"workflow", workflow,
			"message_id", sent.MessageID,
			"subject", sent.Subject,
			"to", sent.To,
			"error", err,
		)
		s.metrics.PersistFailed(workflow)
		delivery.Status = StatusDegraded
		delivery.Warning = "message was delivered but its history could not be recorded: " + err.Error()
	}

	result := metrics.ResultSent
	if delivery.Status == StatusDegraded {
		result = metrics.ResultDegraded
	}
	s.metrics.ObserveDelivery(workflow, result, took)
	s.broadcast(sent, delivery)
	s.logger.Info("message dispatched",
		"workflow", workflow,
		"status", delivery.Status,
		"record_id", delivery.RecordID,
		"recipients", len(sent.To),
	)
	return delivery, nil
}

func (s *Service) persist(ctx context.Context, sent mailer.Sent, delivery *Delivery, extra persistFunc) error {
	recipients, err := s.store.UpsertRecipients(ctx, sent.To)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(recipients))
	for _, recipient := range recipients {
		ids = append(ids, recipient.ID)
	}
	record, err := s.store.RecordDelivery(ctx, sent.Subject, sent.Body, ids)
	if err != nil {
		return err
	}
	delivery.RecordID = record.ID
	if extra != nil {
		return extra(ctx, delivery, recipients)
	}
	return nil
}

func (s *Service) broadcast(sent mailer.Sent, delivery Delivery) {
	if s.hub == nil {
		return
	}
	frame, err := sse.Frame(EventDispatched, dispatchedEvent{
		RecordID: delivery.RecordID,
		Subject:  sent.Subject,
		From:     sent.From,
		To:       sent.To,
		SentAt:   sent.Date.UTC(),
		Degraded: delivery.Status == StatusDegraded,
	})
	if err != nil {
		s.logger.Warn("encode dispatch event", "error", err)
		return
	}
	s.hub.Broadcast(append([]string{sent.From}, sent.To...), frame)
}
