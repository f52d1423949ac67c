package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

type fakeSender struct {
	name string
}

func (f *fakeSender) Send(ctx context.Context, n domain.Notification) (*SendReceipt, error) {
	return &SendReceipt{ProviderMessageID: f.name}, nil
}

func TestRegistryResolveHonorsHint(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	textbee := &fakeSender{name: "textbee"}
	twilio := &fakeSender{name: "twilio"}

	if err := registry.Register(domain.ChannelSMS, domain.ProviderTextbee, textbee); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.Register(domain.ChannelSMS, domain.ProviderTwilio, twilio); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	sender, key, err := registry.Resolve(domain.ChannelSMS, domain.ProviderTwilio)
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if sender != Sender(twilio) || key != domain.ProviderTwilio {
		t.Fatalf("Resolve() = (%v, %s), want twilio", sender, key)
	}
}

func TestRegistryResolveFallsBackToDefault(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	textbee := &fakeSender{name: "textbee"}
	if err := registry.Register(domain.ChannelSMS, domain.ProviderTextbee, textbee); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// No hint: default applies.
	sender, key, err := registry.Resolve(domain.ChannelSMS, "")
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if sender != Sender(textbee) || key != domain.ProviderTextbee {
		t.Fatalf("Resolve() = (%v, %s), want textbee default", sender, key)
	}

	// Unconfigured hint: default applies.
	sender, key, err = registry.Resolve(domain.ChannelSMS, domain.ProviderSNS)
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if sender != Sender(textbee) || key != domain.ProviderTextbee {
		t.Fatalf("Resolve() = (%v, %s), want textbee fallback", sender, key)
	}
}

func TestRegistryResolveNoProvider(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	_, _, err := registry.Resolve(domain.ChannelEmail, "")
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("Resolve() error = %v, want ErrNoProvider", err)
	}
}

func TestRegistrySetDefault(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	textbee := &fakeSender{name: "textbee"}
	sns := &fakeSender{name: "sns"}

	if err := registry.Register(domain.ChannelSMS, domain.ProviderTextbee, textbee); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.Register(domain.ChannelSMS, domain.ProviderSNS, sns); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := registry.SetDefault(domain.ChannelSMS, domain.ProviderSNS); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}

	sender, key, err := registry.Resolve(domain.ChannelSMS, "")
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if sender != Sender(sns) || key != domain.ProviderSNS {
		t.Fatalf("Resolve() = (%v, %s), want sns default", sender, key)
	}

	if err := registry.SetDefault(domain.ChannelSMS, domain.ProviderTwilio); err == nil {
		t.Fatal("SetDefault() expected error for unregistered provider")
	}
}

func TestRegistryRegisterValidation(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	if err := registry.Register(domain.Channel("VOICE"), domain.ProviderTextbee, &fakeSender{}); err == nil {
		t.Fatal("Register() expected error for invalid channel")
	}
	if err := registry.Register(domain.ChannelSMS, domain.Provider("BOGUS"), &fakeSender{}); err == nil {
		t.Fatal("Register() expected error for invalid provider")
	}
	if err := registry.Register(domain.ChannelSMS, domain.ProviderTextbee, nil); err == nil {
		t.Fatal("Register() expected error for nil sender")
	}
}
