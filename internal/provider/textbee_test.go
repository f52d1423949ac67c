package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

func TestTextbeeSMSSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody textbeeSendRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/gateway/devices/device-1/send-sms") {
			t.Errorf("path = %s, want .../gateway/devices/device-1/send-sms", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "key-1" {
			t.Errorf("x-api-key = %q, want %q", got, "key-1")
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"smsBatchId":"batch-42"}}`))
	}))
	defer server.Close()

	p, err := NewTextbeeSMSWithClient("key-1", "device-1", server.URL, resty.New())
	if err != nil {
		t.Fatalf("NewTextbeeSMSWithClient() error = %v", err)
	}

	notification := domain.Notification{
		Channel:   domain.ChannelSMS,
		Recipient: "+905551112233",
		Body:      "hello",
	}

	receipt, err := p.Send(context.Background(), notification)
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if receipt.StatusCode != http.StatusCreated {
		t.Fatalf("StatusCode = %d, want %d", receipt.StatusCode, http.StatusCreated)
	}
	if receipt.ProviderMessageID != "batch-42" {
		t.Fatalf("ProviderMessageID = %q, want %q", receipt.ProviderMessageID, "batch-42")
	}

	if len(gotBody.Recipients) != 1 || gotBody.Recipients[0] != notification.Recipient {
		t.Fatalf("request.recipients = %v, want [%s]", gotBody.Recipients, notification.Recipient)
	}
	if gotBody.Message != notification.Body {
		t.Fatalf("request.message = %q, want %q", gotBody.Message, notification.Body)
	}
}

func TestTextbeeSMSSendStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "unauthorized is permanent", statusCode: http.StatusUnauthorized, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("gateway failed"))
			}))
			defer server.Close()

			p, err := NewTextbeeSMSWithClient("key-1", "device-1", server.URL, resty.New())
			if err != nil {
				t.Fatalf("NewTextbeeSMSWithClient() error = %v", err)
			}

			_, err = p.Send(context.Background(), domain.Notification{
				Channel:   domain.ChannelSMS,
				Recipient: "+905551112233",
				Body:      "hello",
			})
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestTextbeeSMSSendTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"smsBatchId":"late"}}`))
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	p, err := NewTextbeeSMSWithClient("key-1", "device-1", server.URL, client)
	if err != nil {
		t.Fatalf("NewTextbeeSMSWithClient() error = %v", err)
	}

	_, err = p.Send(context.Background(), domain.Notification{
		Channel:   domain.ChannelSMS,
		Recipient: "+905551112233",
		Body:      "hello",
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}

	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}
