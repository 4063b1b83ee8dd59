package intake

import "strings"

// Intent is the caller's coarse reason for calling, inferred from one
// utterance during DETERMINE_TYPE.
type Intent string

const (
	IntentWorkOrder Intent = "work_order"
	IntentLead      Intent = "lead"
	IntentUnknown   Intent = "unknown"
)

// Keyword families are checked in declared order; the first family with a
// match wins. These are heuristics, not contracts: a model-based classifier
// can replace any of these functions without touching other components.
var (
	emergencyKeywords = []string{"not working", "no heat", "no ac", "no air", "freezing", "too hot", "emergency"}
	urgentKeywords    = []string{"strange noise", "smell", "leak", "loud"}

	heatingKeywords = []string{"heat", "furnace", "warm"}
	coolingKeywords = []string{"ac", "air conditioning", "cooling", "cold"}

	workOrderKeywords = []string{"schedule", "service", "repair", "fix", "broken", "not working"}
	leadKeywords      = []string{"question", "price", "cost", "info"}
)

// ClassifyPriority maps an issue description to a priority. Emergency
// keywords are checked before Urgent ones; no match is Standard.
func ClassifyPriority(text string) Priority {
	lower := strings.ToLower(text)
	if containsAny(lower, emergencyKeywords) {
		return PriorityEmergency
	}
	if containsAny(lower, urgentKeywords) {
		return PriorityUrgent
	}
	return PriorityStandard
}

// ClassifySystemType maps an issue description to the HVAC subsystem.
// Heating keywords are checked before Cooling ones; no match is Unknown.
func ClassifySystemType(text string) SystemType {
	lower := strings.ToLower(text)
	if containsAny(lower, heatingKeywords) {
		return SystemHeating
	}
	if containsAny(lower, coolingKeywords) {
		return SystemCooling
	}
	return SystemUnknown
}

// ClassifyIntent decides whether an utterance asks for service or for
// information. IntentUnknown means the flow should re-prompt instead of
// guessing.
func ClassifyIntent(text string) Intent {
	lower := strings.ToLower(text)
	if containsAny(lower, workOrderKeywords) {
		return IntentWorkOrder
	}
	if containsAny(lower, leadKeywords) {
		return IntentLead
	}
	return IntentUnknown
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
