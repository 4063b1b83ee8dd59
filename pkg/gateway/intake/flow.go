package intake

import (
	"fmt"
	"strings"
)

// State is a node of the turn-based intake flow.
type State string

const (
	StateGreeting      State = "GREETING"
	StateDetermineType State = "DETERMINE_TYPE"
	StateGetName       State = "GET_NAME"
	StateGetAddress    State = "GET_ADDRESS"
	StateGetIssue      State = "GET_ISSUE"
	StateConfirm       State = "CONFIRM"
	StateComplete      State = "COMPLETE"
	StateLeadInquiry   State = "LEAD_INQUIRY"
)

const (
	minNameLen    = 2
	minAddressLen = 6
)

// Step is the outcome of one flow transition: the new state, the updated
// record, the prompt to speak, and whether the caller side should persist
// the record or hang up after speaking.
type Step struct {
	State  State
	Data   Record
	Prompt string
	Save   bool
	Hangup bool
}

// Next advances the intake flow by one caller utterance. It is pure: the
// same (state, utterance, data) always yields the same Step, and no I/O
// happens here. Persistence is the caller's job when Step.Save is set.
func Next(state State, utterance string, data Record) Step {
	trimmed := strings.TrimSpace(utterance)

	switch state {
	case StateGreeting:
		return Step{State: StateDetermineType, Data: data, Prompt: promptDetermineType}

	case StateDetermineType:
		switch ClassifyIntent(trimmed) {
		case IntentWorkOrder:
			data.CallType = CallTypeWorkOrder
			return Step{State: StateGetName, Data: data, Prompt: promptGetName}
		case IntentLead:
			data.CallType = CallTypeLead
			data.IssueDescription = trimmed
			return Step{State: StateLeadInquiry, Data: data, Prompt: promptLeadInquiry}
		default:
			// No keyword match: re-prompt rather than guessing a branch.
			return Step{State: StateDetermineType, Data: data, Prompt: promptDetermineTypeRetry}
		}

	case StateGetName:
		if len(trimmed) < minNameLen {
			return Step{State: StateGetName, Data: data, Prompt: promptGetNameRetry}
		}
		data.Name = trimmed
		return Step{State: StateGetAddress, Data: data, Prompt: promptGetAddress}

	case StateGetAddress:
		if len(trimmed) < minAddressLen {
			return Step{State: StateGetAddress, Data: data, Prompt: promptGetAddressRetry}
		}
		data.Address = trimmed
		return Step{State: StateGetIssue, Data: data, Prompt: promptGetIssue}

	case StateGetIssue:
		data.IssueDescription = trimmed
		data.Priority = ClassifyPriority(trimmed)
		data.SystemType = ClassifySystemType(trimmed)
		return Step{State: StateConfirm, Data: data, Prompt: confirmPrompt(data)}

	case StateConfirm:
		return Step{State: StateComplete, Data: data, Prompt: promptComplete, Save: true}

	case StateComplete:
		return Step{State: StateComplete, Data: data, Prompt: promptGoodbye, Hangup: true}

	case StateLeadInquiry:
		if trimmed != "" {
			if data.Notes == "" {
				data.Notes = trimmed
			} else {
				data.Notes += "\n" + trimmed
			}
		}
		return Step{State: StateLeadInquiry, Data: data, Prompt: promptLeadFollowup}

	default:
		return Step{State: StateDetermineType, Data: data, Prompt: promptDetermineType}
	}
}

const (
	promptDetermineType      = "Hi, this is AVA with your HVAC service team. Are you calling to schedule a service visit, or do you have a question about pricing or our services?"
	promptDetermineTypeRetry = "Sorry, I didn't catch that. Do you need to schedule a repair or service visit, or do you have a general question?"
	promptGetName            = "I can help you set that up. Can I get your full name?"
	promptGetNameRetry       = "Sorry, I didn't get your name. Could you say your full name again?"
	promptGetAddress         = "Thanks. What's the service address?"
	promptGetAddressRetry    = "I didn't catch the address. Could you say the full street address?"
	promptGetIssue           = "Got it. Can you describe what's going on with your system?"
	promptComplete           = "You're all set. A technician will follow up shortly to confirm your appointment. Thanks for calling!"
	promptGoodbye            = "Goodbye! Have a great day."
	promptLeadInquiry        = "Happy to help with that. What would you like to know?"
	promptLeadFollowup       = "Is there anything else I can help you with? If you're all done, just say goodbye."
)

func confirmPrompt(data Record) string {
	return fmt.Sprintf(
		"Let me confirm: %s at %s, and the issue is %s. A technician will follow up shortly. Is there anything else?",
		data.Name, data.Address, data.IssueDescription,
	)
}

// IsGoodbye reports whether an utterance is one of the fixed phrases that
// end the call immediately.
func IsGoodbye(utterance string) bool {
	switch strings.ToLower(strings.TrimSpace(utterance)) {
	case "goodbye", "bye", "stop":
		return true
	default:
		return false
	}
}
