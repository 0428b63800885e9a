// Package events publishes domain events (booking created, question asked, ...)
// as JSON messages.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects published by the stores.
const (
	BookingCreated   = "booking.created"
	BookingConfirmed = "booking.confirmed"
	BookingCancelled = "booking.cancelled"
	BookingCompleted = "booking.completed"
	QuestionAsked    = "question.asked"
	AnswerAccepted   = "answer.accepted"
	ReviewPosted     = "review.posted"
)

// Publisher publishes an event payload on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Envelope wraps every payload on the wire.
type Envelope struct {
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func encode(subject string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", subject, err)
	}
	return json.Marshal(Envelope{Subject: subject, OccurredAt: time.Now().UTC(), Data: data})
}

// NATS publishes to a NATS server under a subject prefix (e.g. "cinema").
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// NewNATS connects to url.
func NewNATS(url, prefix string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("crudschemas"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATS{conn: conn, prefix: prefix}, nil
}

// WithPrefix returns a publisher sharing the connection under another prefix.
func (n *NATS) WithPrefix(prefix string) *NATS {
	return &NATS{conn: n.conn, prefix: prefix}
}

// Subject returns the full subject for an event name.
func (n *NATS) Subject(name string) string {
	if n.prefix == "" {
		return name
	}
	return n.prefix + "." + name
}

// Publish implements Publisher.
func (n *NATS) Publish(_ context.Context, subject string, payload any) error {
	full := n.Subject(subject)
	msg, err := encode(full, payload)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(full, msg); err != nil {
		return fmt.Errorf("publish %s: %w", full, err)
	}
	return nil
}

// Subscribe delivers decoded envelopes for subjects matching pattern
// (NATS wildcards allowed).
func (n *NATS) Subscribe(pattern string, handler func(Envelope)) (*nats.Subscription, error) {
	return n.conn.Subscribe(n.Subject(pattern), func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		handler(env)
	})
}

// Close drains the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, any) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, subject string, payload any) error {
	msg, err := encode(subject, payload)
	if err != nil {
		return err
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

// Subjects returns the recorded subjects in publish order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Subject
	}
	return out
}
