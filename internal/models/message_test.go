package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPriorityJSONRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		wire string
		want Priority
	}{
		{"low", `"low"`, PriorityLow},
		{"normal", `"normal"`, PriorityNormal},
		{"high", `"high"`, PriorityHigh},
		{"urgent", `"URGENT"`, PriorityUrgent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p Priority
			if err := json.Unmarshal([]byte(tc.wire), &p); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.wire, err)
			}
			if p != tc.want {
				t.Fatalf("unmarshal %s: got %s, want %s", tc.wire, p, tc.want)
			}
			out, err := json.Marshal(tc.want)
			if err != nil {
				t.Fatalf("marshal %s: %v", tc.want, err)
			}
			if string(out) != `"`+tc.want.String()+`"` {
				t.Fatalf("marshal %s: got %s", tc.want, out)
			}
		})
	}
}

func TestPriorityJSONRejectsBadValues(t *testing.T) {
	var p Priority
	if err := json.Unmarshal([]byte(`"critical"`), &p); err == nil {
		t.Fatal("expected error for unknown priority name")
	}
	if err := json.Unmarshal([]byte(`2`), &p); err == nil {
		t.Fatal("expected error for numeric priority")
	}
	if _, err := json.Marshal(Priority(9)); err == nil {
		t.Fatal("expected error marshalling out-of-range priority")
	}
}

func TestMessageDecodesNamedPriority(t *testing.T) {
	raw := []byte(`{"to":"+14155550100","body":"hello","priority":"high","scheduled_for":"2025-03-01T12:00:00Z"}`)
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.EffectivePriority() != PriorityHigh {
		t.Fatalf("priority: got %s, want high", msg.EffectivePriority())
	}
	if msg.ScheduledFor == nil || !msg.ScheduledFor.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("scheduled_for: %v", msg.ScheduledFor)
	}
}
