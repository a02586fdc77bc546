package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Vivek-Chaudhari30/voice-agent/internal/booking"
)

// listSlotsTool exposes booking.Store.AvailableSlots to the model.
func listSlotsTool(store *booking.Store) Definition {
	type args struct {
		Date string `json:"date"`
	}
	type result struct {
		AvailableSlots []string `json:"available_slots"`
	}

	return Definition{
		Name: "list_available_slots",
		Description: "List the open appointment slots for a given date. " +
			"Returns an empty list on weekends or when the day is fully booked.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "The date to check, in YYYY-MM-DD format.",
				},
			},
			"required": []string{"date"},
		},
		Execute: func(ctx context.Context, _ string, raw json.RawMessage) (any, error) {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, fmt.Errorf("tools: list_available_slots arguments: %w", err)
			}
			slots, err := store.AvailableSlots(ctx, a.Date)
			if err != nil {
				return nil, err
			}
			return result{AvailableSlots: slots}, nil
		},
	}
}

// createAppointmentTool exposes booking.Store.CreateAppointment to the model.
// The slot-taken race is a domain outcome, not an error: it is reported as
// {"success": false, "error": "slot_taken"} so the model can offer another
// slot.
func createAppointmentTool(store *booking.Store) Definition {
	type args struct {
		CustomerName string `json:"customer_name"`
		Date         string `json:"date"`
		Time         string `json:"time"`
		Phone        string `json:"phone"`
	}
	type success struct {
		Success            bool   `json:"success"`
		ConfirmationNumber string `json:"confirmation_number"`
	}
	type failure struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}

	return Definition{
		Name: "create_appointment",
		Description: "Book an appointment slot for the caller. Returns a " +
			"confirmation number on success, or success=false with error " +
			"\"slot_taken\" when the slot was booked by someone else.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"customer_name": map[string]any{
					"type":        "string",
					"description": "The caller's full name.",
				},
				"date": map[string]any{
					"type":        "string",
					"description": "The appointment date, in YYYY-MM-DD format.",
				},
				"time": map[string]any{
					"type":        "string",
					"description": "The slot label, e.g. \"10:30 AM\".",
				},
				"phone": map[string]any{
					"type":        "string",
					"description": "The caller's phone number.",
				},
			},
			"required": []string{"customer_name", "date", "time", "phone"},
		},
		Execute: func(ctx context.Context, callSid string, raw json.RawMessage) (any, error) {
			var a args
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, fmt.Errorf("tools: create_appointment arguments: %w", err)
			}
			confirmation, err := store.CreateAppointment(ctx, booking.CreateParams{
				CustomerName: a.CustomerName,
				Date:         a.Date,
				Time:         a.Time,
				CallSid:      callSid,
				Phone:        a.Phone,
			})
			if errors.Is(err, booking.ErrSlotTaken) {
				return failure{Success: false, Error: "slot_taken"}, nil
			}
			if err != nil {
				return nil, err
			}
			return success{Success: true, ConfirmationNumber: confirmation}, nil
		},
	}
}
