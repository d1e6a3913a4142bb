// Package payments charges stored payment sources for subscription renewals.
//
// RecurringService is the collaborator the billing scheduler calls. Each
// attempt is written to the billing history before the gateway is called, so
// a crash between the two leaves a pending record rather than an untracked
// charge. Declined charges are retried with exponential backoff (24h, 48h,
// 72h) up to billing.MaxRetries times.
//
// Gateways:
//
//   - StripeGateway: off-session PaymentIntents against a saved card
//   - DeclineGateway: declines everything; the default when no key is configured
package payments
