package assistant

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/budgets"
)

const (
	msgWelcome = `👋 Welcome to Monedita!

I'm your expense assistant. Here's what I can do:

💰 *Track expenses*
Just tell me: "Spent 45000 on groceries"

🧾 *Receipts*
Send a photo of a receipt or a voice note

🎯 *Budgets*
"Set food budget to 500000", then "show budgets"

📊 *Your plan*
Send "plan" to see your usage this period

Try it now! Tell me about a recent expense.`

	msgUnsupported    = "I can process text, images (receipts), and voice messages. Try one of those!"
	msgError          = "Sorry, I encountered an error. Please try again."
	msgReminderYes    = "Great! Tell me what you spent. You can:\n\n• Type: \"Spent 50000 on lunch\"\n• Send a photo of your receipt\n• Send a voice message"
	msgReminderNo     = "No problem! I'll check in with you later. Keep tracking your expenses!"
	msgCancelFree     = "You're on the free plan, there is no subscription to cancel."
	msgAlreadyCancel  = "Your subscription is already set not to renew."
	msgReactivateFree = "You're on the free plan. Send \"plan\" to see the upgrade options."
	msgAlreadyActive  = "Your subscription is already active and will renew automatically."
	msgNoPaymentCard  = "There's no card on file for your subscription. Please subscribe again to add one."
	msgReactivated    = "✅ Auto-renewal is back on. Your plan will renew automatically."
	msgBudgetHelp     = `To set a budget, say: "Set food budget to 500000"`
	msgNoBudgets      = `You haven't set any budgets yet. Try: "Set food budget to 500000"`
)

// Reply button IDs of the daily reminder
const (
	ReminderButtonYes = "reminder_yes"
	ReminderButtonNo  = "reminder_no"
)

var usageLabels = map[billing.UsageType]string{
	billing.UsageText:           "Text messages",
	billing.UsageVoice:          "Voice messages",
	billing.UsageImage:          "Receipt photos",
	billing.UsageAIConversation: "AI conversations",
	billing.UsageBudget:         "Budgets",
}

func usageLabel(t billing.UsageType) string {
	if label, ok := usageLabels[t]; ok {
		return label
	}
	return string(t)
}

// upgradeMessage tells the user a limit was reached and lists the paid plans
func upgradeMessage(check *billing.LimitCheck, current *billing.Plan, catalog *billing.Catalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ You've used %d of %d %s included in your %s plan this period.\n",
		check.Used, check.Limit, strings.ToLower(usageLabel(check.UsageType)), current.Name)

	var options []string
	if catalog != nil {
		for _, plan := range catalog.All() {
			if plan.IsFree() || plan.PriceMonthly <= current.PriceMonthly {
				continue
			}
			options = append(options, fmt.Sprintf("• *%s* ($%.2f/month): %s %s",
				plan.Name, plan.PriceMonthly, plan.Limit(check.UsageType), strings.ToLower(usageLabel(check.UsageType))))
		}
	}
	if len(options) == 0 {
		b.WriteString("Your limits reset at the start of your next billing period.")
		return b.String()
	}
	b.WriteString("\nUpgrade to keep going:\n")
	b.WriteString(strings.Join(options, "\n"))
	return b.String()
}

// usageSummary renders the plan, its state and the usage of every type
func usageSummary(status *billing.SubscriptionStatus, usage map[billing.UsageType]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *%s plan*", status.Plan.Name)

	sub := status.Subscription
	switch status.State {
	case billing.StatePaidActive:
		if sub.NextBillingAt != nil {
			fmt.Fprintf(&b, " (renews %s)", sub.NextBillingAt.Format("2006-01-02"))
		}
	case billing.StatePaidCancelled:
		if sub.NextBillingAt != nil {
			fmt.Fprintf(&b, " (cancelled, active until %s)", sub.NextBillingAt.Format("2006-01-02"))
		} else {
			b.WriteString(" (cancelled)")
		}
	}

	fmt.Fprintf(&b, "\nUsage since %s:\n", status.PeriodStart.Format("2006-01-02"))
	for _, t := range billing.UsageTypes {
		fmt.Fprintf(&b, "• %s: %d/%s\n", usageLabel(t), usage[t], status.Plan.Limit(t))
	}

	if status.HasPaymentMethod && status.CardLastFour != "" {
		fmt.Fprintf(&b, "💳 %s •••• %s\n", status.CardBrand, status.CardLastFour)
	}
	return strings.TrimRight(b.String(), "\n")
}

func cancelledMessage(sub *billing.Subscription) string {
	if sub.NextBillingAt == nil {
		return "Auto-renewal is off. Your plan stays active until the end of the current period."
	}
	return fmt.Sprintf("Auto-renewal is off. Your plan stays active until %s, then you'll move to the free plan.",
		sub.NextBillingAt.Format("2006-01-02"))
}

// reminderGreeting picks the greeting for the reminder sent at hour
func reminderGreeting(hour int) string {
	if hour < 14 {
		return "Good afternoon"
	}
	return "Good evening"
}

// formatAmount groups thousands with dots, as amounts are written in Colombia
func formatAmount(n int64) string {
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String()
}

func progressBar(percent int) string {
	filled := min(max(percent/10, 0), 10)
	return strings.Repeat("█", filled) + strings.Repeat("░", 10-filled)
}

func budgetSetMessage(b *budgets.Budget, created bool) string {
	verb := "Updated"
	if created {
		verb = "Set"
	}
	return fmt.Sprintf("✅ %s %s budget to %s/month", verb, b.Category, formatAmount(b.Amount))
}

func budgetsMessage(statuses []budgets.Status, month time.Time) string {
	if len(statuses) == 0 {
		return msgNoBudgets
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 *Your Budgets* (%s)\n", month.Format("January"))
	for _, st := range statuses {
		fmt.Fprintf(&b, "\n*%s*\nBudget: %s | Spent: %s (%d%%)\nRemaining: %s\n%s\n",
			st.Budget.Category, formatAmount(st.Budget.Amount), formatAmount(st.Spent), st.Percent(),
			formatAmount(st.Remaining()), progressBar(st.Percent()))
	}
	return strings.TrimRight(b.String(), "\n")
}

func budgetAlertMessage(st *budgets.Status) string {
	if st.Level() == budgets.AlertExceeded {
		return fmt.Sprintf("⚠️ *Budget Alert!* You've exceeded your %s budget (%s/%s)",
			st.Budget.Category, formatAmount(st.Spent), formatAmount(st.Budget.Amount))
	}
	return fmt.Sprintf("⚠️ You've used %d%% of your %s budget", st.Percent(), st.Budget.Category)
}
