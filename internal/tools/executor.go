// Package tools executes the business actions an LLM may request during a
// turn: availability checks, bookings, orders, and the telephony actions
// transfer_to_human and end_call.
//
// Every tool is a request/response operation against the store or the
// telephony controller, guarded by argument validation. Bad arguments never
// fail a turn: the executor answers with a clarifying question the agent
// speaks back to the caller, and nothing is persisted. Successful bookings
// and orders mint a human-readable confirmation code at the moment of
// persistence; that code is the durable reference the business and the
// caller share.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/voxline-ai/voxline/internal/store"
	"github.com/voxline-ai/voxline/internal/telephony"
	"github.com/voxline-ai/voxline/pkg/types"
)

// placeholderValues are argument values LLMs emit when they did not actually
// extract the information from the conversation. They are treated the same
// as a missing argument.
var placeholderValues = map[string]bool{
	"":        true,
	"unknown": true,
	"n/a":     true,
	"na":      true,
	"null":    true,
	"none":    true,
}

// clarifyingQuestions maps a missing argument to the question the agent asks
// to obtain it.
var clarifyingQuestions = map[string]string{
	"customer_name": "What name should I put that under?",
	"date":          "What date would you like?",
	"time":          "What time works for you?",
	"party_size":    "How many people will be joining?",
	"order_type":    "Is that for pickup or delivery?",
	"items":         "What would you like to order?",
}

const storeFailureMessage = "I'm sorry, I wasn't able to complete that just now. Could we try again?"

// Executor holds the collaborators shared by all sessions. Bind it to a
// session to obtain the per-session executor handed to the turn engine.
type Executor struct {
	store     store.Store
	telephony telephony.Controller // nil when no telephony provider is wired
}

// NewExecutor creates an Executor. controller may be nil for deployments
// without call control (chat-only tenants).
func NewExecutor(st store.Store, controller telephony.Controller) *Executor {
	return &Executor{store: st, telephony: controller}
}

// SessionContext identifies the session a tool call executes on behalf of.
type SessionContext struct {
	// TenantID keys all persisted records.
	TenantID string

	// SessionID is the external call/chat identifier, used for telephony
	// actions and transcript entries.
	SessionID string

	// Tenant is the resolved tenant configuration.
	Tenant store.Tenant

	// Caller carries optional caller metadata; used to attach contact
	// records to bookings and orders.
	Caller types.CallerInfo

	// IsCall is true for voice sessions. Telephony actions are only
	// meaningful on calls.
	IsCall bool
}

// Definitions returns the tool schema offered to the LLM for this session.
// Telephony tools are only offered where they can actually work.
func (e *Executor) Definitions(sc SessionContext) []types.ToolDefinition {
	defs := []types.ToolDefinition{checkAvailabilityDef, createBookingDef, createOrderDef}
	if sc.IsCall && e.telephony != nil && sc.Tenant.EscalationPhone != "" {
		defs = append(defs, transferToHumanDef)
	}
	if sc.IsCall {
		defs = append(defs, endCallDef)
	}
	return defs
}

// Bind returns the session-scoped executor the turn engine calls into.
func (e *Executor) Bind(sc SessionContext) *BoundExecutor {
	return &BoundExecutor{ex: e, sc: sc}
}

// BoundExecutor executes tool calls for one session.
type BoundExecutor struct {
	ex *Executor
	sc SessionContext
}

// Execute runs one tool call. Failures are always encoded in the result's
// Message as something the agent can say, never returned as errors.
func (b *BoundExecutor) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		slog.Warn("tool call with unparseable arguments",
			"tool", call.Name, "session_id", b.sc.SessionID, "error", err)
		return types.ToolResult{
			CallID: call.ID, Name: call.Name,
			Message: "I didn't quite catch the details. Could you repeat that?",
		}
	}

	res := b.dispatch(ctx, call.Name, args)
	res.CallID = call.ID
	res.Name = call.Name
	res.Args = args

	slog.Info("tool executed",
		"tool", call.Name,
		"session_id", b.sc.SessionID,
		"tenant_id", b.sc.TenantID,
		"ok", res.OK,
		"confirmation_code", res.ConfirmationCode,
	)
	return res
}

func (b *BoundExecutor) dispatch(ctx context.Context, name string, args map[string]string) types.ToolResult {
	switch name {
	case ToolCheckAvailability:
		return b.checkAvailability(ctx, args)
	case ToolCreateBooking:
		return b.createBooking(ctx, args)
	case ToolCreateOrder:
		return b.createOrder(ctx, args)
	case ToolTransferToHuman:
		return b.transferToHuman(ctx)
	case ToolEndCall:
		return b.endCall(ctx)
	default:
		return types.ToolResult{
			Message: "I'm sorry, that's not something I can do.",
		}
	}
}

func (b *BoundExecutor) checkAvailability(ctx context.Context, args map[string]string) types.ToolResult {
	if q, missing := validateArgs(checkAvailabilityDef, args); missing {
		return types.ToolResult{Message: q}
	}
	date, slot := args["date"], args["time"]

	n, err := b.ex.store.BookingsForSlot(ctx, b.sc.TenantID, date, slot)
	if err != nil {
		slog.Error("availability lookup failed",
			"tenant_id", b.sc.TenantID, "error", err)
		return types.ToolResult{Message: storeFailureMessage}
	}

	if capacity := b.sc.Tenant.SlotCapacity; capacity > 0 && n >= capacity {
		return types.ToolResult{
			OK:      true,
			Message: fmt.Sprintf("We're fully booked at %s on %s. Would another time work?", slot, date),
		}
	}
	return types.ToolResult{
		OK:      true,
		Message: fmt.Sprintf("%s at %s is available.", date, slot),
	}
}

func (b *BoundExecutor) createBooking(ctx context.Context, args map[string]string) types.ToolResult {
	if q, missing := validateArgs(createBookingDef, args); missing {
		return types.ToolResult{Message: q}
	}

	partySize, err := strconv.Atoi(strings.TrimSpace(args["party_size"]))
	if err != nil || partySize <= 0 {
		return types.ToolResult{Message: clarifyingQuestions["party_size"]}
	}

	booking := store.Booking{
		TenantID:     b.sc.TenantID,
		CustomerName: args["customer_name"],
		Phone:        b.sc.Caller.Phone,
		Date:         args["date"],
		TimeSlot:     args["time"],
		PartySize:    partySize,
		Notes:        args["notes"],
		CreatedAt:    time.Now(),
	}
	code, err := persistWithCode(func(code string) error {
		booking.ConfirmationCode = code
		return b.ex.store.CreateBooking(ctx, booking)
	})
	if err != nil {
		slog.Error("booking persistence failed",
			"tenant_id", b.sc.TenantID, "error", err)
		return types.ToolResult{Message: storeFailureMessage}
	}
	b.saveContact(ctx, args["customer_name"])

	return types.ToolResult{
		OK:               true,
		ConfirmationCode: code,
		Message: fmt.Sprintf("Booking confirmed for %s, %s at %s, party of %d. Confirmation code %s.",
			args["customer_name"], args["date"], args["time"], partySize, code),
	}
}

func (b *BoundExecutor) createOrder(ctx context.Context, args map[string]string) types.ToolResult {
	if q, missing := validateArgs(createOrderDef, args); missing {
		return types.ToolResult{Message: q}
	}

	order := store.Order{
		TenantID:     b.sc.TenantID,
		CustomerName: args["customer_name"],
		Phone:        b.sc.Caller.Phone,
		OrderType:    args["order_type"],
		Items:        args["items"],
		Notes:        args["notes"],
		CreatedAt:    time.Now(),
	}
	code, err := persistWithCode(func(code string) error {
		order.ConfirmationCode = code
		return b.ex.store.CreateOrder(ctx, order)
	})
	if err != nil {
		slog.Error("order persistence failed",
			"tenant_id", b.sc.TenantID, "error", err)
		return types.ToolResult{Message: storeFailureMessage}
	}
	b.saveContact(ctx, args["customer_name"])

	return types.ToolResult{
		OK:               true,
		ConfirmationCode: code,
		Message: fmt.Sprintf("Order placed for %s: %s (%s). Confirmation code %s.",
			args["customer_name"], args["items"], args["order_type"], code),
	}
}

func (b *BoundExecutor) transferToHuman(ctx context.Context) types.ToolResult {
	if !b.sc.IsCall || b.ex.telephony == nil || b.sc.Tenant.EscalationPhone == "" {
		// No transfer path configured: decline gracefully instead of failing
		// the turn.
		return types.ToolResult{
			Message: "I'm sorry, I'm not able to transfer you right now, but I'm happy to help myself or take a message.",
		}
	}
	if err := b.ex.telephony.Transfer(ctx, b.sc.SessionID, b.sc.Tenant.EscalationPhone); err != nil {
		slog.Error("call transfer failed",
			"session_id", b.sc.SessionID, "error", err)
		return types.ToolResult{
			Message: "I'm sorry, the transfer didn't go through. Can I help with anything else?",
		}
	}
	return types.ToolResult{
		OK:      true,
		Message: "Of course, connecting you now. One moment please.",
	}
}

func (b *BoundExecutor) endCall(ctx context.Context) types.ToolResult {
	if b.sc.IsCall && b.ex.telephony != nil {
		if err := b.ex.telephony.EndCall(ctx, b.sc.SessionID); err != nil {
			slog.Error("hangup failed", "session_id", b.sc.SessionID, "error", err)
			// The goodbye still gets spoken; the call drops when the caller
			// hangs up.
		}
	}
	return types.ToolResult{
		OK:      true,
		Message: "Thanks for calling. Goodbye!",
	}
}

// saveContact attaches a contact record to the tenant, best-effort.
func (b *BoundExecutor) saveContact(ctx context.Context, name string) {
	if name == "" && b.sc.Caller.Phone == "" {
		return
	}
	c := store.Contact{
		TenantID:  b.sc.TenantID,
		Name:      name,
		Phone:     b.sc.Caller.Phone,
		Email:     b.sc.Caller.Email,
		CreatedAt: time.Now(),
	}
	if err := b.ex.store.SaveContact(ctx, c); err != nil {
		slog.Warn("contact save failed", "tenant_id", b.sc.TenantID, "error", err)
	}
}

// parseArgs decodes the LLM's JSON argument payload into a flat string map.
// Non-string scalars are stringified; an empty payload yields an empty map.
func parseArgs(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]string{}, nil
	}
	var loose map[string]any
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return nil, fmt.Errorf("tools: parse arguments: %w", err)
	}
	args := make(map[string]string, len(loose))
	for k, v := range loose {
		switch val := v.(type) {
		case string:
			args[k] = val
		case float64:
			args[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			args[k] = strconv.FormatBool(val)
		case nil:
			args[k] = ""
		default:
			enc, _ := json.Marshal(val)
			args[k] = string(enc)
		}
	}
	return args, nil
}

// validateArgs checks the definition's required arguments for missing or
// placeholder values. It returns the clarifying question for the first gap.
func validateArgs(def types.ToolDefinition, args map[string]string) (question string, missing bool) {
	for _, req := range def.Required {
		v := strings.ToLower(strings.TrimSpace(args[req]))
		if placeholderValues[v] {
			q, ok := clarifyingQuestions[req]
			if !ok {
				q = fmt.Sprintf("Could you tell me the %s?", strings.ReplaceAll(req, "_", " "))
			}
			return q, true
		}
	}
	return "", false
}
