package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kursadbilgin/notification-pipeline/internal/domain"
)

const (
	defaultTextbeeBaseURL = "https://api.textbee.dev/api/v1"
	defaultTextbeeTimeout = 10 * time.Second
)

type textbeeSendRequest struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
}

type textbeeSendResponse struct {
	Data struct {
		SMSBatchID string `json:"smsBatchId"`
	} `json:"data"`
}

// TextbeeSMS sends SMS notifications through the Textbee gateway API.
type TextbeeSMS struct {
	client   *resty.Client
	baseURL  string
	apiKey   string
	deviceID string
}

func NewTextbeeSMS(apiKey, deviceID string) (*TextbeeSMS, error) {
	client := resty.New()
	client.SetTimeout(defaultTextbeeTimeout)
	client.SetRetryCount(0)

	return NewTextbeeSMSWithClient(apiKey, deviceID, defaultTextbeeBaseURL, client)
}

func NewTextbeeSMSWithClient(apiKey, deviceID, baseURL string, client *resty.Client) (*TextbeeSMS, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("textbee api key is required")
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("textbee device id is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultTextbeeBaseURL
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTextbeeTimeout)
	}
	client.SetRetryCount(0)

	return &TextbeeSMS{
		client:   client,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:   strings.TrimSpace(apiKey),
		deviceID: strings.TrimSpace(deviceID),
	}, nil
}

func (p *TextbeeSMS) Send(ctx context.Context, notification domain.Notification) (*SendReceipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	reqBody := textbeeSendRequest{
		Recipients: []string{notification.Recipient},
		Message:    notification.Body,
	}

	endpoint := fmt.Sprintf("%s/gateway/devices/%s/send-sms", p.baseURL, p.deviceID)

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("x-api-key", p.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "textbee request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "textbee returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendReceipt{
			ProviderMessageID: textbeeMessageID(response.Body()),
			StatusCode:        statusCode,
			Body:              responseBody,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    httpErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func textbeeMessageID(body []byte) string {
	var parsed textbeeSendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Data.SMSBatchID)
}
