// Package assistant turns inbound WhatsApp events into replies.
//
// The Dispatcher routes each event by kind. Text, image and audio messages
// are billable: the limit gate is consulted first, and when the user is over
// a plan ceiling the reply is an upgrade message instead of an answer.
// Usage is recorded only after a reply was produced.
//
//	text   -> text + ai_conversation
//	image  -> image
//	audio  -> voice
//
// A few commands are answered directly and never count against a plan:
// help, plan/usage, cancel subscription and reactivate subscription.
//
// With a budgets service configured, "set <category> budget to N" creates or
// updates a monthly budget and "budgets" lists them with this month's
// spending. Only creating a budget is gated and counted (usage type budget).
// A text that reads "spent N on <category>" is recorded as an expense once the
// responder answered it, and the reply carries an alert at 80% and 100% of
// the category's budget.
//
// ReminderService sends the twice-daily expense reminder with two reply
// buttons; the Dispatcher clears the pending reminder when either is pressed.
package assistant
