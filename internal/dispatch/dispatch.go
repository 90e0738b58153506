// Package dispatch holds the outbound adapters for the payment and
// notification collaborators. Both speak a plain JSON webhook; when no
// endpoint is configured the adapter degrades to logging, which keeps local
// development and tests free of external dependencies.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kipyegonline/keyman-contracts/internal/service"
)

type PaymentWebhook struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

func NewPaymentWebhook(url string, log zerolog.Logger) *PaymentWebhook {
	return &PaymentWebhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (w *PaymentWebhook) Charge(ctx context.Context, payerID uuid.UUID, amount float64, milestoneID uuid.UUID) error {
	payload := map[string]interface{}{
		"type":         "charge",
		"payer_id":     payerID.String(),
		"amount":       amount,
		"milestone_id": milestoneID.String(),
	}
	if w.url == "" {
		w.log.Info().Interface("payload", payload).Msg("payment charge (no endpoint configured)")
		return nil
	}
	return postJSON(ctx, w.client, w.url, payload)
}

func (w *PaymentWebhook) Payout(ctx context.Context, referrerKsNumber string, amount float64, contractID uuid.UUID) error {
	payload := map[string]interface{}{
		"type":        "payout",
		"referrer_ks": referrerKsNumber,
		"amount":      amount,
		"contract_id": contractID.String(),
	}
	if w.url == "" {
		w.log.Info().Interface("payload", payload).Msg("cashback payout (no endpoint configured)")
		return nil
	}
	return postJSON(ctx, w.client, w.url, payload)
}

type NotificationWebhook struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

func NewNotificationWebhook(url string, log zerolog.Logger) *NotificationWebhook {
	return &NotificationWebhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (w *NotificationWebhook) Notify(ctx context.Context, userID uuid.UUID, event service.Event) error {
	payload := map[string]interface{}{
		"user_id": userID.String(),
		"event":   event.EventName(),
		"data":    event,
	}
	if w.url == "" {
		w.log.Info().Str("user_id", userID.String()).Str("event", event.EventName()).Msg("notification (no endpoint configured)")
		return nil
	}
	return postJSON(ctx, w.client, w.url, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
	}
	return nil
}
