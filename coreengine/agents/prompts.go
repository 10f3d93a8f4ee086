package agents

import (
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

// System prompts. Structured prompts ask for a single JSON object; the
// provider's JSON mode is enabled for those shapes.
const (
	routerSystemPrompt = `You classify messages sent to a sales outreach assistant.
Decide one of:
- "generate": the user wants new outreach drafts for a prospect
- "refine": the user wants changes to drafts produced earlier in this conversation
- "conversational": small talk or a question that needs a direct answer
- "unclassifiable": the message cannot be interpreted
Rate your confidence from 0 to 100. Gibberish or empty requests get low confidence.
Respond with JSON only: {"decision": "...", "confidence": 0-100, "reason": "..."}`

	profilerSystemPrompt = `You extract facts about the person to be contacted from the user's message and any attached page text.
Never invent facts. Use null for anything not stated.
Respond with JSON only:
{"name": "...", "role": "...", "company": "...", "industry": null, "location": null,
 "seniority": null, "interests": [], "recent_activity": [], "detected_tone": "professional|casual|formal",
 "research_topics": []}
research_topics lists at most three short web searches that would ground the outreach, or is empty.`

	strategistSystemPrompt = `You plan a personalized outreach campaign.
Use only facts from the prospect profile and research notes.
Respond with JSON only:
{"requested_channels": ["email", "linkedin", "sms", "chat"], "goal": "...", "hook": "...",
 "pain_point": "...", "value_proposition": "...", "recommended_tone": "...", "key_points": ["..."]}`

	writerSystemPrompt = `You write one outreach message for one channel.
Ground every personal detail in the prospect profile; never invent facts.
End with exactly one clear call to action.
Output only the message text, with no commentary.`

	criticSystemPrompt = `You review one outreach draft. Score 0 to 100 against this rubric:
1. Personalization specificity: references concrete facts about this prospect.
2. Factual grounding: every claim about the prospect appears in the profile.
3. Tone alignment with the prospect and the channel.
4. Exactly one clear call to action.
Respond with JSON only:
{"score": 0-100, "feedback": "...", "additions": ["..."], "removals": ["..."]}`

	replierSystemPrompt = `You are a friendly assistant that writes sales outreach drafts.
Answer the user's message briefly. If they seem to want drafts, tell them to describe the prospect
(name, role, company, and anything recent about them) and the channels they want.`
)

// Canned replies that never need a model call.
const (
	GreetingReply = "Hi! Tell me who you want to reach (name, role, company, anything recent about them) " +
		"and which channels you need: email, LinkedIn, SMS or chat."
	ClarificationReply = "I couldn't tell what you need. To draft outreach, describe the prospect " +
		"(name, role, company, recent activity) and the channels you want, for example: " +
		"\"Write a cold email to Jane Doe, CTO at Acme, who just launched a robotics API.\""
	FallbackReply = "I'm here to help with outreach drafts. Describe the prospect and the channels you want."
)

func profilerPrompt(text, pageText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User message:\n%s\n", text)
	if pageText != "" {
		fmt.Fprintf(&b, "\nProfile page text:\n%s\n", pageText)
	}
	return b.String()
}

func strategistPrompt(profile *envelope.ProspectProfile, detected []envelope.ChannelID, supporting string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prospect profile:\n%s\n", profile.Summary())
	if supporting != "" {
		fmt.Fprintf(&b, "\nResearch notes:\n%s\n", supporting)
	}
	fmt.Fprintf(&b, "\nChannels the user asked for: %s\n", channelList(detected))
	b.WriteString("Plan the campaign.")
	return b.String()
}

func writerPrompt(req WriteRequest, channel envelope.ChannelID, policy envelope.ChannelPolicy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", policy.PromptConstraints())
	fmt.Fprintf(&b, "Prospect profile:\n%s\n\n", req.Profile.Summary())
	if req.Brief != nil {
		fmt.Fprintf(&b, "Campaign brief:\n%s\n\n", req.Brief.Summary())
	}
	if req.SupportingContext != "" {
		fmt.Fprintf(&b, "Research notes:\n%s\n\n", req.SupportingContext)
	}
	for i, ex := range req.Examples {
		fmt.Fprintf(&b, "Example of an accepted draft %d:\n%s\n\n", i+1, ex.Text)
	}
	if prev, ok := req.Previous[channel]; ok && prev != "" {
		fmt.Fprintf(&b, "Previous draft:\n%s\n\n", prev)
	}
	if req.Prior != nil && !req.Prior.Passed {
		b.WriteString("Reviewer feedback on the previous draft:\n")
		if fb := req.Prior.ChannelFeedback[channel]; fb != "" {
			fmt.Fprintf(&b, "%s\n", fb)
		} else if req.Prior.Feedback != "" {
			fmt.Fprintf(&b, "%s\n", req.Prior.Feedback)
		}
		for _, a := range req.Prior.Additions {
			fmt.Fprintf(&b, "Add: %s\n", a)
		}
		for _, r := range req.Prior.Removals {
			fmt.Fprintf(&b, "Remove: %s\n", r)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Write the %s message now.", channel)
	return b.String()
}

func criticPrompt(profile *envelope.ProspectProfile, channel envelope.ChannelID, policy envelope.ChannelPolicy, draft string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prospect profile:\n%s\n\n", profile.Summary())
	fmt.Fprintf(&b, "Channel rules:\n%s\n\n", policy.PromptConstraints())
	if problems := policy.Violations(draft); len(problems) > 0 {
		fmt.Fprintf(&b, "Rule violations found: %s\n\n", strings.Join(problems, "; "))
	}
	fmt.Fprintf(&b, "Channel: %s\nDraft:\n%s\n", channel, draft)
	return b.String()
}

func channelList(channels []envelope.ChannelID) string {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
