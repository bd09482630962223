package tools

import "github.com/voxline-ai/voxline/pkg/types"

// Tool names.
const (
	ToolCheckAvailability = "check_availability"
	ToolCreateBooking     = "create_booking"
	ToolCreateOrder       = "create_order"
	ToolTransferToHuman   = "transfer_to_human"
	ToolEndCall           = "end_call"
)

func stringParam(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var checkAvailabilityDef = types.ToolDefinition{
	Name:        ToolCheckAvailability,
	Description: "Check whether a booking slot is available on a given date and time.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date": stringParam("The requested date, e.g. 2026-09-04 or 'friday'."),
			"time": stringParam("The requested time slot, e.g. 19:00."),
		},
		"required": []string{"date", "time"},
	},
	Required: []string{"date", "time"},
}

var createBookingDef = types.ToolDefinition{
	Name:        ToolCreateBooking,
	Description: "Create a booking once the customer has confirmed name, date, time, and party size.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_name": stringParam("The customer's name for the booking."),
			"date":          stringParam("The booking date."),
			"time":          stringParam("The booking time slot."),
			"party_size":    stringParam("Number of people, e.g. '4'."),
			"notes":         stringParam("Optional special requests."),
		},
		"required": []string{"customer_name", "date", "time", "party_size"},
	},
	Required: []string{"customer_name", "date", "time", "party_size"},
}

var createOrderDef = types.ToolDefinition{
	Name:        ToolCreateOrder,
	Description: "Place a pickup or delivery order once the customer has confirmed name, order type, and items.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_name": stringParam("The customer's name for the order."),
			"order_type":    stringParam("Either 'pickup' or 'delivery'."),
			"items":         stringParam("The items being ordered."),
			"notes":         stringParam("Optional special instructions."),
		},
		"required": []string{"customer_name", "order_type", "items"},
	},
	Required: []string{"customer_name", "order_type", "items"},
}

var transferToHumanDef = types.ToolDefinition{
	Name:        ToolTransferToHuman,
	Description: "Transfer the caller to a human when they ask for one or the request is beyond your abilities.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": stringParam("Short reason for the transfer."),
		},
	},
}

var endCallDef = types.ToolDefinition{
	Name:        ToolEndCall,
	Description: "End the call after the conversation has naturally concluded.",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	},
}
