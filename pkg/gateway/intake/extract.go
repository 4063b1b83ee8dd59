package intake

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError reports a function-call payload missing a required field.
// The backend may retry the function call with a corrected payload; nothing
// is persisted until validation passes.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("intake payload missing required field %q", e.Field)
}

// ExtractFunctionCall decodes the AI backend's structured intake payload —
// the arguments of the one function it may invoke — into a Record. The
// backend manages the conversation itself in realtime mode, so this is the
// single terminal event per call: required fields are checked, enum casing
// is normalized, and priority/system type are defaulted from the issue text
// when absent.
func ExtractFunctionCall(rawArgs []byte) (Record, error) {
	var payload struct {
		CallType             string `json:"call_type"`
		CustomerName         string `json:"customer_name"`
		ServiceAddress       string `json:"service_address"`
		PropertyType         string `json:"property_type"`
		IssueDescription     string `json:"issue_description"`
		SystemType           string `json:"system_type"`
		SystemBrand          string `json:"system_brand"`
		SystemAge            string `json:"system_age"`
		Priority             string `json:"priority"`
		AccessInstructions   string `json:"access_instructions"`
		SchedulingPreference string `json:"scheduling_preference"`
		OnSiteContact        string `json:"onsite_contact"`
		ReferralSource       string `json:"referral_source"`
		Email                string `json:"email"`
		Notes                string `json:"notes"`
	}
	if err := json.Unmarshal(rawArgs, &payload); err != nil {
		return Record{}, fmt.Errorf("decode intake payload: %w", err)
	}

	required := []struct {
		field string
		value string
	}{
		{"call_type", payload.CallType},
		{"customer_name", payload.CustomerName},
		{"service_address", payload.ServiceAddress},
		{"issue_description", payload.IssueDescription},
		{"priority", payload.Priority},
	}
	for _, req := range required {
		if strings.TrimSpace(req.value) == "" {
			return Record{}, &ValidationError{Field: req.field}
		}
	}

	callType, err := normalizeCallType(payload.CallType)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		CallType:             callType,
		Name:                 strings.TrimSpace(payload.CustomerName),
		Address:              strings.TrimSpace(payload.ServiceAddress),
		IssueDescription:     strings.TrimSpace(payload.IssueDescription),
		SystemType:           normalizeSystemType(payload.SystemType),
		Priority:             normalizePriority(payload.Priority),
		PropertyType:         strings.TrimSpace(payload.PropertyType),
		Brand:                strings.TrimSpace(payload.SystemBrand),
		SystemAge:            strings.TrimSpace(payload.SystemAge),
		AccessInstructions:   strings.TrimSpace(payload.AccessInstructions),
		SchedulingPreference: strings.TrimSpace(payload.SchedulingPreference),
		OnSiteContact:        strings.TrimSpace(payload.OnSiteContact),
		ReferralSource:       strings.TrimSpace(payload.ReferralSource),
		Email:                strings.TrimSpace(payload.Email),
		Notes:                strings.TrimSpace(payload.Notes),
	}
	return rec.WithDefaults(), nil
}

func normalizeCallType(raw string) (CallType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
	switch ct := CallType(normalized); ct {
	case CallTypeEmergency, CallTypeServiceRequest, CallTypeMaintenance,
		CallTypeQuote, CallTypeCallback, CallTypeGeneralInquiry,
		CallTypeWorkOrder, CallTypeLead:
		return ct, nil
	default:
		return "", &ValidationError{Field: "call_type"}
	}
}

func normalizePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "emergency":
		return PriorityEmergency
	case "urgent":
		return PriorityUrgent
	case "standard":
		return PriorityStandard
	default:
		return ""
	}
}

func normalizeSystemType(raw string) SystemType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "heating":
		return SystemHeating
	case "cooling":
		return SystemCooling
	case "unknown":
		return SystemUnknown
	default:
		return ""
	}
}

// FunctionName is the one tool the AI backend may invoke when it has
// finished collecting the intake details.
const FunctionName = "record_intake"

// FunctionSchema is the JSON Schema for the record_intake tool, declared
// to the backend in the session configuration.
func FunctionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"call_type": map[string]any{
				"type": "string",
				"enum": []string{
					string(CallTypeEmergency), string(CallTypeServiceRequest),
					string(CallTypeMaintenance), string(CallTypeQuote),
					string(CallTypeCallback), string(CallTypeGeneralInquiry),
				},
			},
			"customer_name":         map[string]any{"type": "string"},
			"service_address":       map[string]any{"type": "string"},
			"property_type":         map[string]any{"type": "string"},
			"issue_description":     map[string]any{"type": "string"},
			"system_type":           map[string]any{"type": "string", "enum": []string{"heating", "cooling", "unknown"}},
			"system_brand":          map[string]any{"type": "string"},
			"system_age":            map[string]any{"type": "string"},
			"priority":              map[string]any{"type": "string", "enum": []string{"emergency", "urgent", "standard"}},
			"access_instructions":   map[string]any{"type": "string"},
			"scheduling_preference": map[string]any{"type": "string"},
			"onsite_contact":        map[string]any{"type": "string"},
			"referral_source":       map[string]any{"type": "string"},
			"email":                 map[string]any{"type": "string"},
			"notes":                 map[string]any{"type": "string"},
		},
		"required": []string{"call_type", "customer_name", "service_address", "issue_description", "priority"},
	}
}
