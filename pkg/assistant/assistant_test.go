package assistant

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/budgets"
	"github.com/platinummonkey/monedita/pkg/conversation"
	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/storage/memory"
	"github.com/platinummonkey/monedita/pkg/whatsapp"
)

type sentMessage struct {
	to      string
	body    string
	buttons []whatsapp.Button
}

// mockMessenger records outbound messages
type mockMessenger struct {
	mu              sync.Mutex
	sent            []sentMessage
	read            []string
	SendButtonsFunc func(to string) error
}

func (m *mockMessenger) SendText(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: to, body: body})
	return nil
}

func (m *mockMessenger) SendButtons(ctx context.Context, to, body string, buttons []whatsapp.Button) error {
	if m.SendButtonsFunc != nil {
		if err := m.SendButtonsFunc(to); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: to, body: body, buttons: buttons})
	return nil
}

func (m *mockMessenger) MarkRead(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read = append(m.read, messageID)
	return nil
}

func (m *mockMessenger) last() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// mockResponder answers with RespondFunc or a fixed reply
type mockResponder struct {
	RespondFunc func(history []conversation.Message) (string, error)
	calls       int
}

func (r *mockResponder) Respond(ctx context.Context, userID string, history []conversation.Message) (string, error) {
	r.calls++
	if r.RespondFunc != nil {
		return r.RespondFunc(history)
	}
	return "Registrado ✅", nil
}

type countingRecorder struct {
	checks map[string][]bool
	usage  map[string]int
}

func (r *countingRecorder) RecordLimitCheck(usageType string, allowed bool) {
	r.checks[usageType] = append(r.checks[usageType], allowed)
}

func (r *countingRecorder) RecordUsage(usageType string) {
	r.usage[usageType]++
}

type fixture struct {
	store      *memory.Store
	billing    *billing.Service
	messenger  *mockMessenger
	responder  *mockResponder
	recorder   *countingRecorder
	reminders  *ReminderService
	budgets    *budgets.Service
	dispatcher *Dispatcher
}

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		messenger: &mockMessenger{},
		responder: &mockResponder{},
		recorder:  &countingRecorder{checks: map[string][]bool{}, usage: map[string]int{}},
	}
	f.billing = billing.NewService(billing.DefaultCatalog(), f.store)
	f.reminders = NewReminderService(f.store, f.messenger, WithReminderPacing(0), WithReminderLogger(quietLogger()))
	f.budgets = budgets.NewService(f.store)
	f.dispatcher = NewDispatcher(f.billing, f.responder, f.messenger, nil,
		WithReminders(f.reminders),
		WithBudgets(f.budgets),
		WithRecorder(f.recorder),
		WithLogger(quietLogger()),
	)
	return f
}

func text(from, id, body string) whatsapp.TextEvent {
	return whatsapp.TextEvent{Meta: whatsapp.Meta{From: from, ID: id}, Body: body}
}

func TestDispatcher_TextIsBillable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "wamid.1", "gasté 20000 en almuerzo")))
	assert.Equal(t, "Registrado ✅", f.messenger.last().body)
	assert.Equal(t, []string{"wamid.1"}, f.messenger.read)

	usage, err := f.billing.GetAllUsage(ctx, "573001")
	require.NoError(t, err)
	assert.Equal(t, 1, usage[billing.UsageText])
	assert.Equal(t, 1, usage[billing.UsageAIConversation])
	assert.Equal(t, 0, usage[billing.UsageImage])
	assert.Equal(t, 1, f.recorder.usage["text"])
}

func TestDispatcher_LimitReached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the free plan allows 10 AI conversations per period
	for i := 0; i < 10; i++ {
		require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "gasto")))
	}
	require.Equal(t, 10, f.responder.calls)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "gasto")))
	assert.Equal(t, 10, f.responder.calls)

	reply := f.messenger.last().body
	assert.Contains(t, reply, "You've used 10 of 10 ai conversations")
	assert.Contains(t, reply, "*Basic*")
	assert.Contains(t, reply, "*Premium*")
	assert.Contains(t, reply, "unlimited ai conversations")

	usage, err := f.billing.GetAllUsage(ctx, "573001")
	require.NoError(t, err)
	assert.Equal(t, 10, usage[billing.UsageText])
	assert.Equal(t, 10, usage[billing.UsageAIConversation])

	checks := f.recorder.checks["ai_conversation"]
	assert.False(t, checks[len(checks)-1])
}

func TestDispatcher_ResponderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.responder.RespondFunc = func(history []conversation.Message) (string, error) {
		return "", errors.New("model overloaded")
	}

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "gasto")))
	assert.Equal(t, msgError, f.messenger.last().body)

	usage, err := f.billing.GetUsage(ctx, "573001", billing.UsageText)
	require.NoError(t, err)
	assert.Equal(t, 0, usage)
}

func TestDispatcher_FailedTurnLeavesNoHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var seen []conversation.Message
	f.responder.RespondFunc = func(history []conversation.Message) (string, error) {
		seen = history
		if history[len(history)-1].Content == "primero" {
			return "", errors.New("model overloaded")
		}
		return "ok", nil
	}

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "primero")))
	require.Equal(t, msgError, f.messenger.last().body)
	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "segundo")))

	require.Len(t, seen, 1)
	assert.Equal(t, "segundo", seen[0].Content)
	assert.Equal(t, 2, f.dispatcher.history.Size("573001"))
}

func TestDispatcher_HistoryIsPassed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var seen []conversation.Message
	f.responder.RespondFunc = func(history []conversation.Message) (string, error) {
		seen = history
		return "ok", nil
	}

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "primero")))
	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "segundo")))

	require.Len(t, seen, 3)
	assert.Equal(t, "primero", seen[0].Content)
	assert.Equal(t, conversation.RoleAssistant, seen[1].Role)
	assert.Equal(t, "segundo", seen[2].Content)
}

func TestDispatcher_Commands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "  HELP ")))
	assert.Equal(t, msgWelcome, f.messenger.last().body)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "plan")))
	summary := f.messenger.last().body
	assert.Contains(t, summary, "*Free plan*")
	assert.Contains(t, summary, "Text messages: 0/30")
	assert.Contains(t, summary, "Budgets: 0/1")

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "cancel subscription")))
	assert.Equal(t, msgCancelFree, f.messenger.last().body)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "reactivar suscripción")))
	assert.Equal(t, msgReactivateFree, f.messenger.last().body)

	assert.Equal(t, 0, f.responder.calls)
	usage, err := f.billing.GetUsage(ctx, "573001", billing.UsageText)
	require.NoError(t, err)
	assert.Equal(t, 0, usage)
}

func TestDispatcher_SetBudgetCountsAgainstPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "Set Food budget to 500.000")))
	assert.Equal(t, "✅ Set food budget to $500.000/month", f.messenger.last().body)

	// changing an existing budget is free
	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "set food budget 600000")))
	assert.Equal(t, "✅ Updated food budget to $600.000/month", f.messenger.last().body)

	usage, err := f.billing.GetUsage(ctx, "573001", billing.UsageBudget)
	require.NoError(t, err)
	assert.Equal(t, 1, usage)

	// the free plan allows one budget
	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "set transport budget to 100000")))
	reply := f.messenger.last().body
	assert.Contains(t, reply, "You've used 1 of 1 budgets")
	assert.Contains(t, reply, "*Basic*")

	_, err = f.budgets.Get(ctx, "573001", "transport")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.Equal(t, []bool{true, false}, f.recorder.checks["budget"])
	assert.Equal(t, 1, f.recorder.usage["budget"])
	assert.Equal(t, 0, f.responder.calls)
}

func TestDispatcher_BudgetCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "set a budget please")))
	assert.Equal(t, msgBudgetHelp, f.messenger.last().body)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "Show budgets")))
	assert.Equal(t, msgNoBudgets, f.messenger.last().body)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "set food budget to 500000")))
	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "presupuestos")))
	summary := f.messenger.last().body
	assert.Contains(t, summary, "*Your Budgets*")
	assert.Contains(t, summary, "*food*")
	assert.Contains(t, summary, "Budget: $500.000 | Spent: $0 (0%)")
	assert.Contains(t, summary, "░░░░░░░░░░")
	assert.Equal(t, 0, f.responder.calls)
}

func TestDispatcher_ExpenseAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.budgets.Set(ctx, "573001", "food", 500000)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "spent 100000 on food")))
	assert.Equal(t, "Registrado ✅", f.messenger.last().body)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "Spent $350.000 on food mercado del mes")))
	assert.Equal(t, "Registrado ✅\n\n⚠️ You've used 90% of your food budget", f.messenger.last().body)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "gasté 60.000 en Food")))
	assert.Equal(t, "Registrado ✅\n\n⚠️ *Budget Alert!* You've exceeded your food budget ($510.000/$500.000)",
		f.messenger.last().body)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "budgets")))
	assert.Contains(t, f.messenger.last().body, "Remaining: -$10.000")
	assert.Contains(t, f.messenger.last().body, "██████████")

	// expenses are ordinary billable messages
	usage, err := f.billing.GetUsage(ctx, "573001", billing.UsageText)
	require.NoError(t, err)
	assert.Equal(t, 3, usage)
}

func TestDispatcher_ExpenseNotRecordedWhenLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.budgets.Set(ctx, "573001", "food", 1000)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := f.billing.Increment(ctx, "573001", billing.UsageAIConversation)
		require.NoError(t, err)
	}

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "spent 5000 on food")))
	assert.Contains(t, f.messenger.last().body, "You've used 10 of 10 ai conversations")

	statuses, err := f.budgets.Statuses(ctx, "573001")
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Zero(t, statuses[0].Spent)
}

func TestParseAmount(t *testing.T) {
	tests := map[string]int64{
		"500":       500,
		"500.000":   500000,
		"1,250,000": 1250000,
		"45.50":     45,
		"45,5":      45,
	}
	for in, want := range tests {
		got, ok := parseAmount(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := parseAmount("0")
	assert.False(t, ok)
}

func TestDispatcher_CancelAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.billing.UpgradePlan(ctx, "573001", billing.PlanPremium)
	require.NoError(t, err)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "reactivate subscription")))
	assert.Equal(t, msgAlreadyActive, f.messenger.last().body)

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "cancel subscription")))
	assert.Contains(t, f.messenger.last().body, "Auto-renewal is off")

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "plan")))
	assert.Contains(t, f.messenger.last().body, "cancelled, active until")
	assert.Contains(t, f.messenger.last().body, "AI conversations: 0/unlimited")

	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "cancel subscription")))
	assert.Equal(t, msgAlreadyCancel, f.messenger.last().body)

	// no card on file
	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "reactivate subscription")))
	assert.Equal(t, msgNoPaymentCard, f.messenger.last().body)

	require.NoError(t, f.store.SavePaymentSource(ctx, &billing.PaymentSource{
		UserID: "573001", Token: "tok", Status: billing.PaymentSourceCancelled,
	}))
	require.NoError(t, f.dispatcher.Handle(ctx, text("573001", "", "reactivate subscription")))
	assert.Equal(t, msgReactivated, f.messenger.last().body)
}

func TestDispatcher_MediaEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var prompts []string
	f.responder.RespondFunc = func(history []conversation.Message) (string, error) {
		prompts = append(prompts, history[len(history)-1].Content)
		return "ok", nil
	}

	meta := whatsapp.Meta{From: "573001", ID: "wamid.9"}
	require.NoError(t, f.dispatcher.Handle(ctx, whatsapp.ImageEvent{Meta: meta, MediaID: "m1", Caption: "mercado"}))
	require.NoError(t, f.dispatcher.Handle(ctx, whatsapp.AudioEvent{Meta: meta, MediaID: "m2", Voice: true}))

	usage, err := f.billing.GetAllUsage(ctx, "573001")
	require.NoError(t, err)
	assert.Equal(t, 1, usage[billing.UsageImage])
	assert.Equal(t, 1, usage[billing.UsageVoice])
	assert.Equal(t, 0, usage[billing.UsageText])
	assert.Contains(t, prompts[0], "mercado")

	require.NoError(t, f.dispatcher.Handle(ctx, whatsapp.UnsupportedEvent{Meta: meta, Type: "sticker"}))
	assert.Equal(t, msgUnsupported, f.messenger.last().body)
}

func TestDispatcher_ReminderButtons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.reminders.Send(ctx, "573001"))
	require.True(t, f.reminders.HasPending("573001"))

	press := whatsapp.InteractiveEvent{Meta: whatsapp.Meta{From: "573001"}, ButtonID: ReminderButtonYes, Title: "Yes, log expense"}
	require.NoError(t, f.dispatcher.Handle(ctx, press))
	assert.Equal(t, msgReminderYes, f.messenger.last().body)
	assert.False(t, f.reminders.HasPending("573001"))

	press.ButtonID = ReminderButtonNo
	require.NoError(t, f.dispatcher.Handle(ctx, press))
	assert.Equal(t, msgReminderNo, f.messenger.last().body)

	// buttons are not billable
	assert.Equal(t, 0, f.responder.calls)

	// other buttons act as typed text
	require.NoError(t, f.dispatcher.Handle(ctx, whatsapp.InteractiveEvent{Meta: whatsapp.Meta{From: "573001"}, ButtonID: "x", Title: "plan"}))
	assert.Contains(t, f.messenger.last().body, "*Free plan*")
}

func TestReminderService_SendAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []string{"573001", "573002", "573003"} {
		_, err := f.billing.GetOrCreate(ctx, u)
		require.NoError(t, err)
	}
	f.messenger.SendButtonsFunc = func(to string) error {
		if to == "573002" {
			return errors.New("recipient not on whatsapp")
		}
		return nil
	}

	sent, err := f.reminders.SendAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.True(t, f.reminders.HasPending("573001"))
	assert.False(t, f.reminders.HasPending("573002"))

	msg := f.messenger.last()
	require.Len(t, msg.buttons, 2)
	assert.Equal(t, ReminderButtonYes, msg.buttons[0].ID)
	assert.Equal(t, ReminderButtonNo, msg.buttons[1].ID)
}

func TestReminderService_Greeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewReminderService(f.store, f.messenger, WithReminderPacing(0), WithReminderClock(func() time.Time { return noon }))
	require.NoError(t, svc.Send(ctx, "573001"))
	assert.Contains(t, f.messenger.last().body, "Good afternoon!")

	evening := noon.Add(9 * time.Hour)
	svc = NewReminderService(f.store, f.messenger, WithReminderPacing(0), WithReminderClock(func() time.Time { return evening }))
	require.NoError(t, svc.Send(ctx, "573001"))
	assert.Contains(t, f.messenger.last().body, "Good evening!")
}

type failingLister struct{}

func (failingLister) ListUserIDs(ctx context.Context) ([]string, error) {
	return nil, errors.New("db down")
}

func TestReminderService_ListError(t *testing.T) {
	svc := NewReminderService(failingLister{}, &mockMessenger{}, WithReminderLogger(quietLogger()))
	sent, err := svc.SendAll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, sent)
}

func TestStaticResponder(t *testing.T) {
	reply, err := StaticResponder("offline").Respond(context.Background(), "573001", nil)
	require.NoError(t, err)
	assert.Equal(t, "offline", reply)
}
