package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/monedita/pkg/async"
	"github.com/platinummonkey/monedita/pkg/httputil"
	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/whatsapp"
)

// WebhookHandlers receives the WhatsApp Cloud API webhook
type WebhookHandlers struct {
	events      EventHandler
	runner      *async.Runner
	recorder    EventRecorder
	verifyToken string
	appSecret   string
}

// NewWebhookHandlers creates the webhook handlers. recorder may be nil; an
// empty appSecret disables signature checks.
func NewWebhookHandlers(events EventHandler, runner *async.Runner, recorder EventRecorder, verifyToken, appSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		events:      events,
		runner:      runner,
		recorder:    recorder,
		verifyToken: verifyToken,
		appSecret:   appSecret,
	}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhook", h.Verify).Methods(http.MethodGet)
	router.HandleFunc("/webhook", h.Receive).Methods(http.MethodPost)
}

// Verify answers the subscription handshake by echoing hub.challenge
func (h *WebhookHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	challenge, status := whatsapp.VerifyChallenge(r.URL.Query(), h.verifyToken)
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Receive acknowledges the webhook and processes its messages in the background
func (h *WebhookHandlers) Receive(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		logger.WithField("limit", tooLarge.Limit).Warn("rejected oversized webhook")
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	case err != nil:
		httputil.WriteBadRequest(w, "failed to read body")
		return
	}

	if h.appSecret != "" && !whatsapp.VerifySignature(body, r.Header.Get(whatsapp.SignatureHeader), h.appSecret) {
		logger.Warn("rejected webhook with invalid signature")
		httputil.WriteForbidden(w, "invalid signature")
		return
	}

	events, err := whatsapp.ParseWebhook(body)
	switch {
	case errors.Is(err, whatsapp.ErrNotWhatsApp):
		w.WriteHeader(http.StatusNotFound)
		return
	case err != nil:
		logger.WithError(err).Warn("malformed webhook payload")
		httputil.WriteBadRequest(w, "malformed payload")
		return
	}

	for _, ev := range events {
		ev := ev
		if h.recorder != nil {
			h.recorder.RecordWebhookEvent(string(ev.Kind()))
		}
		err := h.runner.Go(r.Context(), "webhook event", func(ctx context.Context) error {
			return h.events.Handle(ctx, ev)
		})
		if err != nil {
			logger.WithError(err).WithField("message_id", ev.MessageID()).Error("dropped webhook event")
		}
	}

	w.WriteHeader(http.StatusOK)
}
