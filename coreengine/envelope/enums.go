// Package envelope provides the request-scoped Envelope and the enums shared by
// every stage of the outreach pipeline.
//
// Stage tracking is owned by the kernel state machine; the envelope only carries
// typed data between stages:
//   - ChannelID: target communication surfaces and their policies
//   - Decision: router classification outcomes
//   - ErrorKind: taxonomy of recoverable faults
//   - TerminalReason: why a request finished
package envelope

import (
	"fmt"
	"strings"
)

// ChannelID identifies a target communication surface.
type ChannelID string

const (
	// ChannelEmail is a cold email with subject line and salutation.
	ChannelEmail ChannelID = "email"
	// ChannelLinkedIn is a professional-network direct message.
	ChannelLinkedIn ChannelID = "linkedin"
	// ChannelSMS is a short text message.
	ChannelSMS ChannelID = "sms"
	// ChannelChat is a conversational chat response.
	ChannelChat ChannelID = "chat"
)

// AllChannels lists every channel in canonical order.
var AllChannels = []ChannelID{ChannelEmail, ChannelLinkedIn, ChannelSMS, ChannelChat}

// DefaultChannels is the broad set used when no channel hint is detected.
var DefaultChannels = []ChannelID{ChannelEmail, ChannelLinkedIn, ChannelSMS}

// ParseChannel normalizes a channel name, accepting common aliases.
func ParseChannel(value string) (ChannelID, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "email", "e_mail", "mail":
		return ChannelEmail, nil
	case "linkedin", "linked_in", "professional_dm", "dm", "inmail":
		return ChannelLinkedIn, nil
	case "sms", "text", "short_message", "text_message":
		return ChannelSMS, nil
	case "chat", "chat_response", "reply":
		return ChannelChat, nil
	default:
		return "", fmt.Errorf("invalid channel '%s'. Must be one of: email, linkedin, sms, chat", value)
	}
}

// Valid reports whether c is a known channel.
func (c ChannelID) Valid() bool {
	for _, known := range AllChannels {
		if c == known {
			return true
		}
	}
	return false
}

// SortChannels returns channels in canonical order, de-duplicated, dropping unknown values.
func SortChannels(channels []ChannelID) []ChannelID {
	seen := make(map[ChannelID]bool, len(channels))
	for _, c := range channels {
		seen[c] = true
	}
	result := make([]ChannelID, 0, len(seen))
	for _, c := range AllChannels {
		if seen[c] {
			result = append(result, c)
		}
	}
	return result
}

// IntersectChannels returns the channels of a that are also in b, canonically ordered.
func IntersectChannels(a, b []ChannelID) []ChannelID {
	inB := make(map[ChannelID]bool, len(b))
	for _, c := range b {
		inB[c] = true
	}
	kept := make([]ChannelID, 0, len(a))
	for _, c := range a {
		if inB[c] {
			kept = append(kept, c)
		}
	}
	return SortChannels(kept)
}

// Decision is the router's classification of a request.
type Decision string

const (
	// DecisionConversational is small talk or a question; answered directly.
	DecisionConversational Decision = "conversational"
	// DecisionGenerate asks for new outreach drafts.
	DecisionGenerate Decision = "generate"
	// DecisionRefine asks to rework drafts from an earlier turn.
	DecisionRefine Decision = "refine"
	// DecisionUnclassifiable could not be interpreted.
	DecisionUnclassifiable Decision = "unclassifiable"
)

// DecisionFromString parses a decision string. Unknown values map to unclassifiable.
func DecisionFromString(value string) Decision {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "conversational", "chat", "conversation":
		return DecisionConversational
	case "generate", "generation", "task":
		return DecisionGenerate
	case "refine", "refinement", "revise", "edit":
		return DecisionRefine
	default:
		return DecisionUnclassifiable
	}
}

// RunsPipeline reports whether the decision enters the drafting pipeline.
func (d Decision) RunsPipeline() bool {
	return d == DecisionGenerate || d == DecisionRefine
}

// ErrorKind classifies a recoverable fault.
type ErrorKind string

const (
	// ErrorKindParse is an extraction or classification parse failure.
	ErrorKindParse ErrorKind = "parse"
	// ErrorKindCollaborator is a scraper, knowledge store, research or model failure.
	ErrorKindCollaborator ErrorKind = "collaborator"
	// ErrorKindCritic is an evaluator failure; the critique fails open.
	ErrorKindCritic ErrorKind = "critic"
	// ErrorKindTimeout is the global request deadline.
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindInvalidInput is empty or unusable input.
	ErrorKindInvalidInput ErrorKind = "invalid_input"
)

// TerminalReason represents why processing terminated - exactly one per request.
type TerminalReason string

const (
	// TerminalReasonCompletedSuccessfully indicates every channel passed critique.
	TerminalReasonCompletedSuccessfully TerminalReason = "completed_successfully"
	// TerminalReasonRevisionBudgetExhausted indicates the revision budget ran out.
	TerminalReasonRevisionBudgetExhausted TerminalReason = "revision_budget_exhausted"
	// TerminalReasonCriticFailedOpen indicates the critic errored and accepted the drafts.
	TerminalReasonCriticFailedOpen TerminalReason = "critic_failed_open"
	// TerminalReasonDirectReply indicates a conversational answer without drafting.
	TerminalReasonDirectReply TerminalReason = "direct_reply"
	// TerminalReasonClarificationRequired indicates the request was too ambiguous.
	TerminalReasonClarificationRequired TerminalReason = "clarification_required"
	// TerminalReasonTimedOut indicates the caller deadline fired; fallback drafts were used.
	TerminalReasonTimedOut TerminalReason = "timed_out"
)

// ChannelVerdict is the critic's per-channel acceptance decision.
type ChannelVerdict string

const (
	// ChannelVerdictAccepted freezes the channel's draft.
	ChannelVerdictAccepted ChannelVerdict = "accepted"
	// ChannelVerdictRejected re-queues the channel for the writer.
	ChannelVerdictRejected ChannelVerdict = "rejected"
)
