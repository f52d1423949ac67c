package queue

import (
	"testing"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 4 {
		t.Fatalf("WorkQueueNames len = %d, want 4", len(work))
	}

	expected := map[string]struct{}{
		"sms":          {},
		"email":        {},
		"push_android": {},
		"in_app":       {},
	}

	for _, name := range work {
		if _, ok := expected[name]; !ok {
			t.Fatalf("unexpected queue name: %s", name)
		}
	}

	dlq := DLQNames()
	if len(dlq) != 4 {
		t.Fatalf("DLQNames len = %d, want 4", len(dlq))
	}

	expectedDLQ := map[string]struct{}{
		"dlq.sms":          {},
		"dlq.email":        {},
		"dlq.push_android": {},
		"dlq.in_app":       {},
	}

	for _, name := range dlq {
		if _, ok := expectedDLQ[name]; !ok {
			t.Fatalf("unexpected dlq name: %s", name)
		}
	}
}

func TestQueueName(t *testing.T) {
	queueName := QueueName(domain.ChannelSMS)
	if queueName != "sms" {
		t.Fatalf("QueueName = %s, want sms", queueName)
	}

	dlqName := DLQName(domain.ChannelEmail)
	if dlqName != "dlq.email" {
		t.Fatalf("DLQName = %s, want dlq.email", dlqName)
	}
}

func TestTaskMessageValidate(t *testing.T) {
	msg := TaskMessage{
		NotificationID: "n1",
		Channel:        domain.ChannelSMS,
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.NotificationID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty notification id")
	}

	msg.NotificationID = "n1"
	msg.Channel = domain.Channel("invalid")
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for invalid channel")
	}
}
