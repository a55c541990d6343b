// Package memory provides an in-process publisher for single-node runs and
// tests. Events are recorded in publish order instead of leaving the process.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/farmassist/harvester/internal/catalog"
)

// Event is one recorded publish: the topic and the serialized payload.
type Event struct {
	ID      string
	Topic   string
	Payload []byte
}

// Publisher records program and gap events. Payloads are serialized on
// publish, the same way the Pub/Sub publisher frames them, so recorded
// events never alias caller state.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish implements catalog.Publisher.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.events)+1)
	p.events = append(p.events, Event{ID: id, Topic: topic, Payload: encoded})
	return id, nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// TopicEvents returns the events published on one topic, in order.
func (p *Publisher) TopicEvents(topic string) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, event := range p.events {
		if event.Topic == topic {
			out = append(out, event)
		}
	}
	return out
}

// Programs decodes the canonical-program payloads published on topic.
func (p *Publisher) Programs(topic string) ([]catalog.Program, error) {
	var out []catalog.Program
	for _, event := range p.TopicEvents(topic) {
		var program catalog.Program
		if err := json.Unmarshal(event.Payload, &program); err != nil {
			return nil, fmt.Errorf("decode %s event %s: %w", topic, event.ID, err)
		}
		out = append(out, program)
	}
	return out, nil
}
