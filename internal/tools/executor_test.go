package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/voxline-ai/voxline/internal/store"
	"github.com/voxline-ai/voxline/internal/telephony"
	"github.com/voxline-ai/voxline/pkg/types"
)

func testSession(tenant store.Tenant) SessionContext {
	return SessionContext{
		TenantID:  "t1",
		SessionID: "call-1",
		Tenant:    tenant,
		Caller:    types.CallerInfo{Phone: "+15550001111"},
		IsCall:    true,
	}
}

func newTestExecutor(controller telephony.Controller) (*store.MemoryStore, *Executor) {
	st := store.NewMemoryStore()
	return st, NewExecutor(st, controller)
}

func TestCreateBookingPersistsWithConfirmationCode(t *testing.T) {
	st, ex := newTestExecutor(nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{
		ID:        "call_1",
		Name:      ToolCreateBooking,
		Arguments: `{"customer_name":"Dana","date":"2026-09-04","time":"19:00","party_size":"4"}`,
	})

	if !res.OK {
		t.Fatalf("result not OK: %+v", res)
	}
	if len(res.ConfirmationCode) != codeLength {
		t.Fatalf("code = %q, want length %d", res.ConfirmationCode, codeLength)
	}
	if !strings.Contains(res.Message, res.ConfirmationCode) {
		t.Errorf("message %q does not mention the confirmation code", res.Message)
	}

	bookings := st.Bookings()
	if len(bookings) != 1 {
		t.Fatalf("persisted %d bookings, want 1", len(bookings))
	}
	got := bookings[0]
	if got.CustomerName != "Dana" || got.PartySize != 4 || got.ConfirmationCode != res.ConfirmationCode {
		t.Errorf("booking = %+v", got)
	}
	if got.Phone != "+15550001111" {
		t.Errorf("booking phone = %q, want the caller's number", got.Phone)
	}
	// The caller becomes a contact record.
	if len(st.Contacts()) != 1 {
		t.Errorf("contacts = %d, want 1", len(st.Contacts()))
	}
}

func TestPlaceholderNameIsRejectedWithClarifyingQuestion(t *testing.T) {
	st, ex := newTestExecutor(nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{
		ID:        "call_1",
		Name:      ToolCreateOrder,
		Arguments: `{"customer_name":"unknown","order_type":"pickup","items":"Large Pepperoni"}`,
	})

	if res.OK {
		t.Fatal("placeholder name was accepted")
	}
	if res.Message != "What name should I put that under?" {
		t.Errorf("message = %q, want the name clarifying question", res.Message)
	}
	if res.ConfirmationCode != "" {
		t.Error("confirmation code minted for a rejected call")
	}
	if len(st.Orders()) != 0 {
		t.Error("rejected order was persisted")
	}
}

func TestPlaceholderVariantsAreAllRejected(t *testing.T) {
	_, ex := newTestExecutor(nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	for _, bad := range []string{"", "unknown", "N/A", "null", "None", "  "} {
		res := b.Execute(context.Background(), types.ToolCall{
			Name:      ToolCreateBooking,
			Arguments: `{"customer_name":"` + bad + `","date":"friday","time":"19:00","party_size":"2"}`,
		})
		if res.OK {
			t.Errorf("customer_name=%q was accepted", bad)
		}
	}
}

func TestConfirmationCodesAreDistinct(t *testing.T) {
	_, ex := newTestExecutor(nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		res := b.Execute(context.Background(), types.ToolCall{
			Name:      ToolCreateOrder,
			Arguments: `{"customer_name":"Sam","order_type":"pickup","items":"Margherita"}`,
		})
		if !res.OK {
			t.Fatalf("order %d failed: %+v", i, res)
		}
		if seen[res.ConfirmationCode] {
			t.Fatalf("confirmation code %q repeated", res.ConfirmationCode)
		}
		seen[res.ConfirmationCode] = true
	}
}

func TestConfirmationCodeAlphabetExcludesAmbiguousCharacters(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := newConfirmationCode()
		if err != nil {
			t.Fatalf("newConfirmationCode: %v", err)
		}
		if len(code) != codeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), codeLength)
		}
		if strings.ContainsAny(code, "0O1IL") {
			t.Fatalf("code %q contains a visually ambiguous character", code)
		}
	}
}

func TestCheckAvailabilityAgainstSlotCapacity(t *testing.T) {
	st, ex := newTestExecutor(nil)
	tenant := store.Tenant{ID: "t1", SlotCapacity: 2}
	b := ex.Bind(testSession(tenant))
	ctx := context.Background()

	call := types.ToolCall{Name: ToolCheckAvailability, Arguments: `{"date":"2026-09-04","time":"19:00"}`}
	res := b.Execute(ctx, call)
	if !res.OK || !strings.Contains(res.Message, "available") {
		t.Errorf("empty slot: %+v", res)
	}

	for i := 0; i < 2; i++ {
		_ = st.CreateBooking(ctx, store.Booking{TenantID: "t1", Date: "2026-09-04", TimeSlot: "19:00"})
	}
	res = b.Execute(ctx, call)
	if !res.OK || !strings.Contains(res.Message, "fully booked") {
		t.Errorf("full slot: %+v", res)
	}
}

func TestTransferWithoutConfigurationDeclinesGracefully(t *testing.T) {
	_, ex := newTestExecutor(nil)
	// Tenant has no escalation phone and no controller is wired.
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{Name: ToolTransferToHuman})
	if res.OK {
		t.Error("transfer reported success without a transfer path")
	}
	if !strings.Contains(res.Message, "sorry") {
		t.Errorf("message = %q, want an apologetic decline", res.Message)
	}
}

func TestTransferUsesEscalationPhone(t *testing.T) {
	controller := &telephony.MockController{}
	_, ex := newTestExecutor(controller)
	b := ex.Bind(testSession(store.Tenant{ID: "t1", EscalationPhone: "+15559998888"}))

	res := b.Execute(context.Background(), types.ToolCall{Name: ToolTransferToHuman})
	if !res.OK {
		t.Fatalf("transfer failed: %+v", res)
	}
	if len(controller.Transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(controller.Transfers))
	}
	if got := controller.Transfers[0]; got[0] != "call-1" || got[1] != "+15559998888" {
		t.Errorf("transfer = %v", got)
	}
}

func TestEndCallHangsUp(t *testing.T) {
	controller := &telephony.MockController{}
	_, ex := newTestExecutor(controller)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{Name: ToolEndCall})
	if !res.OK {
		t.Fatalf("end_call failed: %+v", res)
	}
	if len(controller.Ended) != 1 || controller.Ended[0] != "call-1" {
		t.Errorf("ended = %v", controller.Ended)
	}
}

func TestUnknownToolAnswersGracefully(t *testing.T) {
	_, ex := newTestExecutor(nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{Name: "set_thermostat", Arguments: `{}`})
	if res.OK {
		t.Error("unknown tool reported success")
	}
	if res.Message == "" {
		t.Error("unknown tool produced no speakable message")
	}
}

func TestMalformedArgumentsAskForRepeat(t *testing.T) {
	_, ex := newTestExecutor(nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{Name: ToolCreateBooking, Arguments: `{not json`})
	if res.OK || res.Message == "" {
		t.Errorf("result = %+v, want a speakable recovery message", res)
	}
}

func TestNonNumericPartySizeAsksAgain(t *testing.T) {
	st, ex := newTestExecutor(nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{
		Name:      ToolCreateBooking,
		Arguments: `{"customer_name":"Dana","date":"friday","time":"19:00","party_size":"a few"}`,
	})
	if res.OK {
		t.Fatal("non-numeric party size accepted")
	}
	if res.Message != "How many people will be joining?" {
		t.Errorf("message = %q", res.Message)
	}
	if len(st.Bookings()) != 0 {
		t.Error("booking persisted despite bad party size")
	}
}

func TestNumericPartySizeFromJSONNumber(t *testing.T) {
	st, ex := newTestExecutor(nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{
		Name:      ToolCreateBooking,
		Arguments: `{"customer_name":"Dana","date":"friday","time":"19:00","party_size":4}`,
	})
	if !res.OK {
		t.Fatalf("JSON-number party size rejected: %+v", res)
	}
	if st.Bookings()[0].PartySize != 4 {
		t.Errorf("party size = %d", st.Bookings()[0].PartySize)
	}
}

func TestDefinitionsDependOnSessionShape(t *testing.T) {
	controller := &telephony.MockController{}
	_, ex := newTestExecutor(controller)

	names := func(defs []types.ToolDefinition) map[string]bool {
		m := make(map[string]bool)
		for _, d := range defs {
			m[d.Name] = true
		}
		return m
	}

	// Voice call with escalation: all five tools.
	voice := names(ex.Definitions(testSession(store.Tenant{ID: "t1", EscalationPhone: "+1555"})))
	for _, want := range []string{ToolCheckAvailability, ToolCreateBooking, ToolCreateOrder, ToolTransferToHuman, ToolEndCall} {
		if !voice[want] {
			t.Errorf("voice session missing %s", want)
		}
	}

	// Chat session: no telephony tools.
	chat := ex.Definitions(SessionContext{TenantID: "t1", SessionID: "chat-1", IsCall: false})
	m := names(chat)
	if m[ToolTransferToHuman] || m[ToolEndCall] {
		t.Errorf("chat session offers telephony tools: %v", m)
	}

	// Voice call without escalation phone: no transfer tool.
	noEsc := names(ex.Definitions(testSession(store.Tenant{ID: "t1"})))
	if noEsc[ToolTransferToHuman] {
		t.Error("transfer offered without an escalation phone")
	}
}

// dupStore rejects the first n create calls with store.ErrDuplicateCode to
// exercise confirmation code regeneration.
type dupStore struct {
	*store.MemoryStore
	rejections int
	codes      []string
}

func (s *dupStore) CreateBooking(ctx context.Context, b store.Booking) error {
	s.codes = append(s.codes, b.ConfirmationCode)
	if s.rejections > 0 {
		s.rejections--
		return fmt.Errorf("test store: create booking: %w", store.ErrDuplicateCode)
	}
	return s.MemoryStore.CreateBooking(ctx, b)
}

func TestDuplicateConfirmationCodeIsRegenerated(t *testing.T) {
	st := &dupStore{MemoryStore: store.NewMemoryStore(), rejections: 2}
	ex := NewExecutor(st, nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{
		Name:      ToolCreateBooking,
		Arguments: `{"customer_name":"Dana","date":"2026-09-04","time":"19:00","party_size":"4"}`,
	})
	if !res.OK {
		t.Fatalf("booking failed despite an attempt remaining: %+v", res)
	}
	if len(st.codes) != 3 {
		t.Fatalf("store saw %d codes, want 3", len(st.codes))
	}
	bookings := st.Bookings()
	if len(bookings) != 1 {
		t.Fatalf("persisted %d bookings, want 1", len(bookings))
	}
	if got := bookings[0].ConfirmationCode; got != res.ConfirmationCode || got != st.codes[2] {
		t.Errorf("persisted code %q, result code %q, last attempted %q: want all equal",
			got, res.ConfirmationCode, st.codes[2])
	}
}

func TestConfirmationCodeCollisionsEventuallyGiveUp(t *testing.T) {
	st := &dupStore{MemoryStore: store.NewMemoryStore(), rejections: codeAttempts + 1}
	ex := NewExecutor(st, nil)
	b := ex.Bind(testSession(store.Tenant{ID: "t1"}))

	res := b.Execute(context.Background(), types.ToolCall{
		Name:      ToolCreateBooking,
		Arguments: `{"customer_name":"Dana","date":"2026-09-04","time":"19:00","party_size":"4"}`,
	})
	if res.OK {
		t.Fatal("booking reported success with every code colliding")
	}
	if res.Message != storeFailureMessage {
		t.Errorf("message = %q, want the store failure fallback", res.Message)
	}
	if len(st.codes) != codeAttempts {
		t.Errorf("store saw %d codes, want %d", len(st.codes), codeAttempts)
	}
	if len(st.Bookings()) != 0 {
		t.Error("a booking was persisted despite the failure")
	}
}
