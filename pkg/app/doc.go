// Package app wires configuration into the billing stack shared by the
// monedita server and the monedita-billing worker: the store, the optional
// Redis client and usage cache, the plan catalog, the billing and payment
// services, the WhatsApp client, reminders and the sweep scheduler.
package app
