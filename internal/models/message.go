package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Priority orders queued messages. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Priorities lists every level from most to least urgent, the order the
// queue scans them in.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority converts the wire representation of a priority level.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityNormal, fmt.Errorf("models: unknown priority %q", value)
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether the priority is one of the four enumerated levels.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// MarshalJSON encodes the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("models: cannot marshal priority %d", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("models: priority must be a string: %w", err)
	}
	parsed, err := ParsePriority(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Message is a single outbound message intent. Once validated it is treated
// as immutable; normalization produces copies via Clone, never in-place edits.
type Message struct {
	To           string         `json:"to"`
	Body         string         `json:"body"`
	From         string         `json:"from,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	Priority     *Priority      `json:"priority,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
}

// Clone returns a deep copy the caller may mutate freely.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Metadata != nil {
		clone.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	if m.ScheduledFor != nil {
		ts := *m.ScheduledFor
		clone.ScheduledFor = &ts
	}
	if m.Priority != nil {
		p := *m.Priority
		clone.Priority = &p
	}
	if m.Tags != nil {
		clone.Tags = append([]string(nil), m.Tags...)
	}
	return &clone
}

// EffectivePriority resolves the optional priority field to a concrete level.
func (m *Message) EffectivePriority() Priority {
	if m == nil || m.Priority == nil {
		return PriorityNormal
	}
	return *m.Priority
}
