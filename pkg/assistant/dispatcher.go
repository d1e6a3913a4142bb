package assistant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/budgets"
	"github.com/platinummonkey/monedita/pkg/conversation"
	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/whatsapp"
)

// DefaultMaxContextTokens bounds the history sent to the responder
const DefaultMaxContextTokens = 4000

// Messenger sends replies to users
type Messenger interface {
	SendText(ctx context.Context, to, body string) error
	SendButtons(ctx context.Context, to, body string, buttons []whatsapp.Button) error
	MarkRead(ctx context.Context, messageID string) error
}

// Responder produces the assistant's reply. The last history message is the
// one being answered.
type Responder interface {
	Respond(ctx context.Context, userID string, history []conversation.Message) (string, error)
}

// Billing is the subset of the billing service the assistant uses
type Billing interface {
	Catalog() *billing.Catalog
	CheckLimit(ctx context.Context, userID string, usageType billing.UsageType) (*billing.LimitCheck, error)
	Increment(ctx context.Context, userID string, usageType billing.UsageType) (int, error)
	GetAllUsage(ctx context.Context, userID string) (map[billing.UsageType]int, error)
	Status(ctx context.Context, userID string) (*billing.SubscriptionStatus, error)
	CancelAutoRenew(ctx context.Context, userID string) (*billing.Subscription, error)
	ReactivateAutoRenew(ctx context.Context, userID string) (*billing.Subscription, error)
}

// Recorder receives limit decisions and usage increments, typically for metrics
type Recorder interface {
	RecordLimitCheck(usageType string, allowed bool)
	RecordUsage(usageType string)
}

// handlerFunc returns the reply to send, or "" for none
type handlerFunc func(ctx context.Context, ev whatsapp.Event) (string, error)

// billableUsage lists the usage types each billable event consumes
var billableUsage = map[whatsapp.Kind][]billing.UsageType{
	whatsapp.KindText:  {billing.UsageText, billing.UsageAIConversation},
	whatsapp.KindImage: {billing.UsageImage},
	whatsapp.KindAudio: {billing.UsageVoice},
}

var (
	setBudgetPattern = regexp.MustCompile(`(?i)^set\s+(\pL+)\s+budget\s+(?:to\s+)?\$?(\d[\d.,]*)$`)
	expensePattern   = regexp.MustCompile(`(?i)^(?:spent|gast[eé])\s+\$?(\d[\d.,]*)\s+(?:on|en)\s+(\pL+)(?:\s+(.*))?$`)
)

// Dispatcher routes inbound events to their handlers
type Dispatcher struct {
	billing   Billing
	responder Responder
	messenger Messenger
	history   *conversation.Store
	reminders *ReminderService
	budgets   *budgets.Service
	recorder  Recorder
	logger    *observability.Logger
	maxTokens int

	routes   map[whatsapp.Kind]handlerFunc
	commands map[string]handlerFunc
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithReminders lets reminder button replies clear the pending reminder
func WithReminders(reminders *ReminderService) DispatcherOption {
	return func(d *Dispatcher) {
		d.reminders = reminders
	}
}

// WithBudgets enables the budget commands and the budget alerts on
// "spent N on category" messages
func WithBudgets(svc *budgets.Service) DispatcherOption {
	return func(d *Dispatcher) {
		d.budgets = svc
	}
}

// WithRecorder reports limit decisions and usage to recorder
func WithRecorder(recorder Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = recorder
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMaxContextTokens bounds the history sent to the responder
func WithMaxContextTokens(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxTokens = n
	}
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(b Billing, responder Responder, messenger Messenger, history *conversation.Store, opts ...DispatcherOption) *Dispatcher {
	if history == nil {
		history = conversation.NewStore(conversation.DefaultConfig())
	}
	d := &Dispatcher{
		billing:   b,
		responder: responder,
		messenger: messenger,
		history:   history,
		logger:    observability.NewLogger(observability.InfoLevel, nil),
		maxTokens: DefaultMaxContextTokens,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.routes = map[whatsapp.Kind]handlerFunc{
		whatsapp.KindText:        d.handleText,
		whatsapp.KindInteractive: d.handleInteractive,
		whatsapp.KindImage:       d.handleImage,
		whatsapp.KindAudio:       d.handleAudio,
		whatsapp.KindUnsupported: d.handleUnsupported,
	}
	d.commands = map[string]handlerFunc{}
	for _, cmd := range []string{"hi", "hello", "hola", "start", "help", "ayuda"} {
		d.commands[cmd] = d.cmdHelp
	}
	for _, cmd := range []string{"plan", "usage", "my plan", "mi plan", "uso"} {
		d.commands[cmd] = d.cmdUsage
	}
	for _, cmd := range []string{"cancel subscription", "cancelar suscripción", "cancelar suscripcion"} {
		d.commands[cmd] = d.cmdCancel
	}
	for _, cmd := range []string{"reactivate subscription", "reactivar suscripción", "reactivar suscripcion"} {
		d.commands[cmd] = d.cmdReactivate
	}
	if d.budgets != nil {
		for _, cmd := range []string{"budgets", "show budgets", "show budget", "presupuestos", "ver presupuestos"} {
			d.commands[cmd] = d.cmdShowBudgets
		}
	}
	return d
}

// Handle processes one inbound event and sends the reply. Handler failures
// are answered with a generic message; the returned error is only the
// failure to deliver that reply.
func (d *Dispatcher) Handle(ctx context.Context, ev whatsapp.Event) error {
	log := d.logger.WithFields(map[string]interface{}{
		"user_id":    ev.Sender(),
		"message_id": ev.MessageID(),
		"kind":       string(ev.Kind()),
	})

	if ev.MessageID() != "" {
		if err := d.messenger.MarkRead(ctx, ev.MessageID()); err != nil {
			log.WithError(err).Warn("failed to mark message as read")
		}
	}

	handler, ok := d.routes[ev.Kind()]
	if !ok {
		handler = d.handleUnsupported
	}

	reply, err := handler(ctx, ev)
	if err != nil {
		log.WithError(err).Error("failed to handle message")
		reply = msgError
	}
	if reply == "" {
		return nil
	}

	if err := d.messenger.SendText(ctx, ev.Sender(), reply); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleText(ctx context.Context, ev whatsapp.Event) (string, error) {
	text := ev.(whatsapp.TextEvent)
	body := strings.TrimSpace(text.Body)
	if body == "" {
		return "", nil
	}

	lower := strings.ToLower(body)
	if cmd, ok := d.commands[lower]; ok {
		return cmd(ctx, ev)
	}
	if d.budgets != nil && strings.HasPrefix(lower, "set ") && strings.Contains(lower, "budget") {
		return d.cmdSetBudget(ctx, ev.Sender(), body)
	}

	reply, answered, err := d.respond(ctx, ev.Sender(), body, billableUsage[whatsapp.KindText])
	if err != nil || !answered {
		return reply, err
	}
	return d.trackExpense(ctx, ev.Sender(), body, reply), nil
}

func (d *Dispatcher) handleInteractive(ctx context.Context, ev whatsapp.Event) (string, error) {
	button := ev.(whatsapp.InteractiveEvent)

	switch button.ButtonID {
	case ReminderButtonYes:
		d.clearReminder(ev.Sender())
		return msgReminderYes, nil
	case ReminderButtonNo:
		d.clearReminder(ev.Sender())
		return msgReminderNo, nil
	}

	// other buttons behave as if the title had been typed
	return d.handleText(ctx, whatsapp.TextEvent{Meta: button.Meta, Body: button.Title})
}

func (d *Dispatcher) handleImage(ctx context.Context, ev whatsapp.Event) (string, error) {
	image := ev.(whatsapp.ImageEvent)
	prompt := "[The user sent a photo of a receipt]"
	if caption := strings.TrimSpace(image.Caption); caption != "" {
		prompt += " " + caption
	}
	reply, _, err := d.respond(ctx, ev.Sender(), prompt, billableUsage[whatsapp.KindImage])
	return reply, err
}

func (d *Dispatcher) handleAudio(ctx context.Context, ev whatsapp.Event) (string, error) {
	reply, _, err := d.respond(ctx, ev.Sender(), "[The user sent a voice note]", billableUsage[whatsapp.KindAudio])
	return reply, err
}

func (d *Dispatcher) handleUnsupported(ctx context.Context, ev whatsapp.Event) (string, error) {
	return msgUnsupported, nil
}

func (d *Dispatcher) clearReminder(userID string) {
	if d.reminders != nil {
		d.reminders.Clear(userID)
	}
}

// gate checks every usage type and returns the first denial, or nil
func (d *Dispatcher) gate(ctx context.Context, userID string, usage []billing.UsageType) (*billing.LimitCheck, error) {
	for _, t := range usage {
		check, err := d.billing.CheckLimit(ctx, userID, t)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s limit: %w", t, err)
		}
		if d.recorder != nil {
			d.recorder.RecordLimitCheck(string(t), check.Allowed)
		}
		if !check.Allowed {
			return check, nil
		}
	}
	return nil, nil
}

// count records usage of an action that already happened. A lost increment
// only under-counts, so it is logged and not returned.
func (d *Dispatcher) count(ctx context.Context, userID string, usage []billing.UsageType) {
	for _, t := range usage {
		if _, err := d.billing.Increment(ctx, userID, t); err != nil {
			d.logger.WithError(err).WithField("user_id", userID).WithField("usage_type", string(t)).
				Error("failed to record usage")
			continue
		}
		if d.recorder != nil {
			d.recorder.RecordUsage(string(t))
		}
	}
}

// respond gates a billable action, asks the responder and records usage
// once the reply is available. answered is false when the reply is a limit
// notice instead of the responder's answer.
func (d *Dispatcher) respond(ctx context.Context, userID, content string, usage []billing.UsageType) (reply string, answered bool, err error) {
	denial, err := d.gate(ctx, userID, usage)
	if err != nil {
		return "", false, err
	}
	if denial != nil {
		reply, err = d.denied(ctx, userID, denial)
		return reply, false, err
	}

	// the exchange is stored only once answered, so a failed turn leaves no trace
	history := d.history.Preview(userID, conversation.RoleUser, content, d.maxTokens)
	reply, err = d.responder.Respond(ctx, userID, history)
	if err != nil {
		return "", false, fmt.Errorf("failed to get response: %w", err)
	}
	d.history.Add(userID, conversation.RoleUser, content)
	d.history.Add(userID, conversation.RoleAssistant, reply)
	d.history.PruneToTokens(userID, d.maxTokens)

	d.count(ctx, userID, usage)
	return reply, true, nil
}

// trackExpense records a "spent N on category" message against the user's
// budgets and appends an alert to reply once the category nears its budget
func (d *Dispatcher) trackExpense(ctx context.Context, userID, body, reply string) string {
	if d.budgets == nil {
		return reply
	}
	m := expensePattern.FindStringSubmatch(body)
	if m == nil {
		return reply
	}
	amount, ok := parseAmount(m[1])
	if !ok {
		return reply
	}

	status, err := d.budgets.RecordExpense(ctx, userID, m[2], amount, m[3])
	if err != nil {
		d.logger.WithError(err).WithField("user_id", userID).Error("failed to record expense")
		return reply
	}
	if status == nil {
		return reply
	}
	return reply + "\n\n" + budgetAlertMessage(status)
}

// parseAmount reads a whole amount. Dots and commas group thousands; a final
// group of one or two digits is cents and is dropped.
func parseAmount(s string) (int64, bool) {
	if i := strings.LastIndexAny(s, ".,"); i >= 0 && len(s)-i-1 <= 2 {
		s = s[:i]
	}
	s = strings.NewReplacer(".", "", ",", "").Replace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (d *Dispatcher) denied(ctx context.Context, userID string, check *billing.LimitCheck) (string, error) {
	status, err := d.billing.Status(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get subscription status: %w", err)
	}
	d.logger.WithFields(map[string]interface{}{
		"user_id":    userID,
		"usage_type": string(check.UsageType),
		"used":       check.Used,
		"limit":      check.Limit,
	}).Info("usage limit reached")
	return upgradeMessage(check, status.Plan, d.billing.Catalog()), nil
}

func (d *Dispatcher) cmdHelp(ctx context.Context, ev whatsapp.Event) (string, error) {
	return msgWelcome, nil
}

func (d *Dispatcher) cmdUsage(ctx context.Context, ev whatsapp.Event) (string, error) {
	status, err := d.billing.Status(ctx, ev.Sender())
	if err != nil {
		return "", fmt.Errorf("failed to get subscription status: %w", err)
	}
	usage, err := d.billing.GetAllUsage(ctx, ev.Sender())
	if err != nil {
		return "", fmt.Errorf("failed to get usage: %w", err)
	}
	return usageSummary(status, usage), nil
}

func (d *Dispatcher) cmdCancel(ctx context.Context, ev whatsapp.Event) (string, error) {
	sub, err := d.billing.CancelAutoRenew(ctx, ev.Sender())
	switch {
	case errors.Is(err, billing.ErrFreePlan):
		return msgCancelFree, nil
	case errors.Is(err, billing.ErrAlreadyCancelled):
		return msgAlreadyCancel, nil
	case err != nil:
		return "", fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return cancelledMessage(sub), nil
}

func (d *Dispatcher) cmdReactivate(ctx context.Context, ev whatsapp.Event) (string, error) {
	_, err := d.billing.ReactivateAutoRenew(ctx, ev.Sender())
	switch {
	case errors.Is(err, billing.ErrFreePlan):
		return msgReactivateFree, nil
	case errors.Is(err, billing.ErrAlreadyActive):
		return msgAlreadyActive, nil
	case errors.Is(err, billing.ErrNoPaymentSource):
		return msgNoPaymentCard, nil
	case err != nil:
		return "", fmt.Errorf("failed to reactivate subscription: %w", err)
	}
	return msgReactivated, nil
}

func (d *Dispatcher) cmdSetBudget(ctx context.Context, userID, body string) (string, error) {
	m := setBudgetPattern.FindStringSubmatch(body)
	if m == nil {
		return msgBudgetHelp, nil
	}
	amount, ok := parseAmount(m[2])
	if !ok {
		return msgBudgetHelp, nil
	}

	// only a new budget counts against the plan
	_, err := d.budgets.Get(ctx, userID, m[1])
	creating := errors.Is(err, billing.ErrNotFound)
	if err != nil && !creating {
		return "", fmt.Errorf("failed to get budget: %w", err)
	}
	usage := []billing.UsageType{billing.UsageBudget}
	if creating {
		denial, err := d.gate(ctx, userID, usage)
		if err != nil {
			return "", err
		}
		if denial != nil {
			return d.denied(ctx, userID, denial)
		}
	}

	budget, created, err := d.budgets.Set(ctx, userID, m[1], amount)
	if err != nil {
		return "", fmt.Errorf("failed to set budget: %w", err)
	}
	if created {
		d.count(ctx, userID, usage)
	}
	return budgetSetMessage(budget, created), nil
}

func (d *Dispatcher) cmdShowBudgets(ctx context.Context, ev whatsapp.Event) (string, error) {
	statuses, err := d.budgets.Statuses(ctx, ev.Sender())
	if err != nil {
		return "", fmt.Errorf("failed to list budgets: %w", err)
	}
	month, _ := d.budgets.CurrentMonth()
	return budgetsMessage(statuses, month), nil
}

// StaticResponder answers every message with the same text. It stands in
// when no language model is configured.
type StaticResponder string

// Respond returns the static reply
func (r StaticResponder) Respond(ctx context.Context, userID string, history []conversation.Message) (string, error) {
	return string(r), nil
}
