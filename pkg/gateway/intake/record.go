// Package intake holds the conversational intake domain: the structured
// record collected from a caller, keyword classification, the deterministic
// intake flow used in turn-based calls, and the extractor that validates
// the AI backend's structured intake payload. Everything here is pure and
// performs no I/O.
package intake

import "strings"

// CallType categorizes why the caller is calling.
type CallType string

const (
	CallTypeEmergency      CallType = "emergency"
	CallTypeServiceRequest CallType = "service_request"
	CallTypeMaintenance    CallType = "maintenance"
	CallTypeQuote          CallType = "quote"
	CallTypeCallback       CallType = "callback"
	CallTypeGeneralInquiry CallType = "general_inquiry"

	// Legacy types produced by the turn-based flow.
	CallTypeWorkOrder CallType = "work_order"
	CallTypeLead      CallType = "lead"
)

// Priority of a service request.
type Priority string

const (
	PriorityEmergency Priority = "Emergency"
	PriorityUrgent    Priority = "Urgent"
	PriorityStandard  Priority = "Standard"
)

// SystemType is the HVAC subsystem the caller is describing.
type SystemType string

const (
	SystemHeating SystemType = "Heating"
	SystemCooling SystemType = "Cooling"
	SystemUnknown SystemType = "Unknown"
)

// Record is the structured intake payload collected from one call.
// Fields are filled monotonically as the conversation progresses.
type Record struct {
	CallType         CallType   `json:"call_type"`
	Name             string     `json:"customer_name"`
	Address          string     `json:"service_address"`
	IssueDescription string     `json:"issue_description"`
	SystemType       SystemType `json:"system_type,omitempty"`
	Priority         Priority   `json:"priority,omitempty"`

	PropertyType         string `json:"property_type,omitempty"`
	Brand                string `json:"system_brand,omitempty"`
	SystemAge            string `json:"system_age,omitempty"`
	AccessInstructions   string `json:"access_instructions,omitempty"`
	SchedulingPreference string `json:"scheduling_preference,omitempty"`
	OnSiteContact        string `json:"onsite_contact,omitempty"`
	ReferralSource       string `json:"referral_source,omitempty"`
	Email                string `json:"email,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

// Complete reports whether the record is eligible for persistence.
func (r Record) Complete() bool {
	return r.CallType != "" &&
		strings.TrimSpace(r.Name) != "" &&
		strings.TrimSpace(r.Address) != "" &&
		strings.TrimSpace(r.IssueDescription) != ""
}

// IsServiceCall reports whether the record should become a work order
// rather than a lead.
func (r Record) IsServiceCall() bool {
	switch r.CallType {
	case CallTypeEmergency, CallTypeServiceRequest, CallTypeMaintenance, CallTypeWorkOrder:
		return true
	default:
		return false
	}
}

// WithDefaults fills Priority and SystemType from issue-keyword
// classification when the caller (or backend) did not supply them.
func (r Record) WithDefaults() Record {
	if r.Priority == "" {
		r.Priority = ClassifyPriority(r.IssueDescription)
	}
	if r.SystemType == "" {
		r.SystemType = ClassifySystemType(r.IssueDescription)
	}
	return r
}
