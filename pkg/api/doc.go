// Package api provides the HTTP server: the WhatsApp webhook, health and
// metrics endpoints, and the admin API.
//
// # Routes
//
//	GET  /health                                liveness
//	GET  /ready                                 store and Redis readiness
//	GET  /metrics                               Prometheus
//	GET  /webhook                               subscription handshake
//	POST /webhook                               inbound messages
//
// Admin routes require "Authorization: Bearer <MONEDITA_ADMIN_TOKEN>":
//
//	GET    /admin/plans
//	GET    /admin/users/{phone}/subscription
//	GET    /admin/users/{phone}/usage
//	POST   /admin/users/{phone}/upgrade         {"plan_id": "basic"}
//	POST   /admin/users/{phone}/cancel
//	POST   /admin/users/{phone}/reactivate
//	POST   /admin/users/{phone}/usage/reset
//	PUT    /admin/users/{phone}/payment-source  {"token": "pm_..."}
//	DELETE /admin/users/{phone}/payment-source
//	POST   /admin/billing/renewals
//	POST   /admin/billing/retries
//
// Phone numbers are normalized to the digits-only form WhatsApp uses as the
// sender ID.
//
// # Webhook Processing
//
// POST /webhook checks the X-Hub-Signature-256 header when an app secret is
// configured, answers 404 for payloads that are not from a WhatsApp Business
// Account, and otherwise acknowledges with 200 before the events are
// handled. Each event runs on an async.Runner so slow LLM calls never delay
// the acknowledgement.
//
// # Usage
//
//	server := api.NewServer(api.Dependencies{
//		Events:  dispatcher,
//		Runner:  runner,
//		Billing: billingService,
//		Health:  health,
//		Logger:  logger,
//	}, api.Options{VerifyToken: cfg.WhatsApp.VerifyToken, AdminToken: cfg.Admin.Token})
//	http.ListenAndServe(":8080", server)
package api
