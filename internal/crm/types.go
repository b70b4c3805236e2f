package crm

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Lead is one opportunity row as returned by the external CRM. It is
// read-only from the engine's perspective; every sync run fetches it fresh.
type Lead struct {
	ID              int64   `json:"external_id"`
	Title           string  `json:"title"`
	StageLabel      string  `json:"stage_label"`
	Salesperson     string  `json:"salesperson"`
	Probability     float64 `json:"probability"`
	ExpectedRevenue float64 `json:"expected_revenue"`
	ContactName     string  `json:"contact_name"`
	PartnerName     string  `json:"partner_name"`
	Phone           string  `json:"phone,omitempty"`
	Email           string  `json:"email,omitempty"`
	City            string  `json:"city,omitempty"`
	Priority        string  `json:"priority,omitempty"`
	DealType        string  `json:"deal_type,omitempty"`
	DeadlineDate    string  `json:"deadline_date,omitempty"` // "2006-01-02", empty when unset
	WriteDate       string  `json:"write_timestamp"`         // "2006-01-02 15:04:05"
}

// LeadFields is the field list requested on every search_read / read call.
var LeadFields = []string{
	"name", "stage_id", "user_id", "probability", "expected_revenue",
	"contact_name", "partner_name", "phone", "email_from", "city",
	"priority", "type", "date_deadline", "write_date",
}

// decodeLead converts one raw RPC row into a Lead. The upstream API encodes
// null as boolean false for most field types, so every accessor tolerates it.
func decodeLead(raw map[string]json.RawMessage) (Lead, error) {
	id, err := asInt64(raw["id"])
	if err != nil {
		return Lead{}, fmt.Errorf("decode lead id: %w", err)
	}

	return Lead{
		ID:              id,
		Title:           asString(raw["name"]),
		StageLabel:      asRelationName(raw["stage_id"]),
		Salesperson:     asRelationName(raw["user_id"]),
		Probability:     asFloat(raw["probability"]),
		ExpectedRevenue: asFloat(raw["expected_revenue"]),
		ContactName:     asString(raw["contact_name"]),
		PartnerName:     asString(raw["partner_name"]),
		Phone:           asString(raw["phone"]),
		Email:           asString(raw["email_from"]),
		City:            asString(raw["city"]),
		Priority:        asString(raw["priority"]),
		DealType:        asString(raw["type"]),
		DeadlineDate:    asString(raw["date_deadline"]),
		WriteDate:       asString(raw["write_date"]),
	}, nil
}

// asString decodes a string field, treating JSON false (upstream null) and
// absent fields as empty.
func asString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// asFloat decodes a numeric field, treating false and absent fields as zero.
func asFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	}
	return 0
}

func asInt64(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing value")
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// asRelationName decodes a many-to-one field, which the upstream API returns
// as a [id, "Display Name"] pair, or false when unset.
func asRelationName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
		return ""
	}
	return asString(pair[1])
}
