// Package notification turns booking lifecycle events from the outbox into
// patient-facing messages and hands them to a delivery channel.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docbook/docbook/internal/domain/scheduling"
	"github.com/docbook/docbook/internal/platform/outbox"
)

// ---------------------------------------------------------------------------
// Message
// ---------------------------------------------------------------------------

// Message is a rendered notification ready for a channel gateway.
type Message struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  string          `json:"tenantId"`
	EventType string          `json:"eventType"`
	Recipient string          `json:"recipient"`
	Body      string          `json:"body"`
	Event     json.RawMessage `json:"event"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Sender delivers a message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template is the message text for one event type.
type Template struct {
	EventType string `json:"eventType"`
	Body      string `json:"body"`
}

// TemplateEngine manages message templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with a template for every
// lifecycle event.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			EventType: scheduling.EventBookingCreated,
			Body:      "Hi {{patient_name}}, we received your booking for {{date}} at {{time}}. The doctor will confirm it once the payment receipt is checked.",
		},
		{
			EventType: scheduling.EventBookingConfirmed,
			Body:      "Hi {{patient_name}}, your appointment on {{date}} at {{time}} is confirmed.",
		},
		{
			EventType: scheduling.EventBookingRejected,
			Body:      "Hi {{patient_name}}, your booking for {{date}} at {{time}} could not be confirmed. Reason: {{reason}}",
		},
		{
			EventType: scheduling.EventBookingFaultyReceipt,
			Body:      "Hi {{patient_name}}, your booking for {{date}} at {{time}} was cancelled because the payment receipt could not be verified. Please book again with a valid receipt.",
		},
		{
			EventType: scheduling.EventBookingCancelled,
			Body:      "Hi {{patient_name}}, your booking for {{date}} at {{time}} has been cancelled.",
		},
		{
			EventType: scheduling.EventRescheduleProposed,
			Body:      "Hi {{patient_name}}, the doctor asked to move your appointment on {{date}} to {{new_date}} at {{time}}. {{doctor_notes}}",
		},
		{
			EventType: scheduling.EventRescheduleApproved,
			Body:      "Hi {{patient_name}}, your appointment has been moved to {{date}} at {{time}}.",
		},
		{
			EventType: scheduling.EventRescheduleRejected,
			Body:      "Hi {{patient_name}}, the reschedule request was declined. Your appointment stays on {{date}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.EventType] = &t
	}
}

// RegisterTemplate adds or replaces the template for an event type.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.EventType] = &t
}

// ErrNoTemplate is returned by Render for event types without a template.
var ErrNoTemplate = errors.New("no template for event type")

// Render performs {{key}} replacement on the event type's template. Keys
// absent from data are left as-is.
func (e *TemplateEngine) Render(eventType string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[eventType]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTemplate, eventType)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return strings.TrimSpace(body), nil
}

// templateData flattens an event into template keys. Every key is present
// so no placeholder survives rendering.
func templateData(ev scheduling.BookingEvent) map[string]string {
	name := "there"
	if ev.PatientName != nil && strings.TrimSpace(*ev.PatientName) != "" {
		name = *ev.PatientName
	}
	return map[string]string{
		"patient_name": name,
		"date":         ev.Date,
		"time":         ev.StartTime,
		"status":       ev.Status,
		"reason":       deref(ev.Reason),
		"new_date":     ev.NewDate,
		"doctor_notes": deref(ev.DoctorNotes),
		"response":     deref(ev.Response),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// Notifier renders outbox entries and sends them. It implements
// outbox.Handler.
type Notifier struct {
	sender    Sender
	templates *TemplateEngine
	logger    zerolog.Logger
}

func NewNotifier(sender Sender, tpl *TemplateEngine, logger zerolog.Logger) *Notifier {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Notifier{sender: sender, templates: tpl, logger: logger}
}

// Handle renders the entry and sends it. Entries that cannot be rendered are
// dropped with a warning since retrying would never succeed.
func (n *Notifier) Handle(ctx context.Context, e outbox.Entry) error {
	var ev scheduling.BookingEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		n.logger.Warn().Err(err).Str("event_id", e.ID.String()).Msg("undecodable outbox payload dropped")
		return nil
	}
	body, err := n.templates.Render(e.Type, templateData(ev))
	if errors.Is(err, ErrNoTemplate) {
		n.logger.Warn().Str("event_id", e.ID.String()).Str("type", e.Type).Msg("no template, event dropped")
		return nil
	}
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		ID:        e.ID,
		TenantID:  e.TenantID,
		EventType: e.Type,
		Recipient: ev.PatientPhone,
		Body:      body,
		Event:     e.Payload,
		CreatedAt: e.CreatedAt,
	})
}

// ---------------------------------------------------------------------------
// Fan-out and log senders
// ---------------------------------------------------------------------------

// MultiSender sends to every channel and joins their errors.
type MultiSender []Sender

func (m MultiSender) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSender writes messages to the log. It is the fallback when no channel
// is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(_ context.Context, m Message) error {
	s.Logger.Info().
		Str("event_id", m.ID.String()).
		Str("tenant_id", m.TenantID).
		Str("type", m.EventType).
		Str("recipient", m.Recipient).
		Str("body", m.Body).
		Msg("notification")
	return nil
}
