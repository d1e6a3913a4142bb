// Package whatsapp speaks the WhatsApp Cloud API: it verifies and decodes
// inbound webhooks and sends outbound messages.
//
// # Inbound
//
// ParseWebhook turns a webhook body into a list of tagged events
// (TextEvent, InteractiveEvent, ImageEvent, AudioEvent, UnsupportedEvent).
// Callers switch on the concrete type:
//
//	events, err := whatsapp.ParseWebhook(body)
//	for _, ev := range events {
//		switch e := ev.(type) {
//		case whatsapp.TextEvent:
//			handleText(e.Sender(), e.Body)
//		case whatsapp.ImageEvent:
//			handleReceipt(e.Sender(), e.MediaID)
//		}
//	}
//
// VerifyChallenge answers the subscription handshake and VerifySignature
// checks the X-Hub-Signature-256 header when an app secret is configured.
//
// # Outbound
//
// Client sends text messages, reply-button messages and read receipts.
package whatsapp
