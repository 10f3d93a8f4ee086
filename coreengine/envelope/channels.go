package envelope

import (
	"fmt"
	"strings"
	"unicode"
)

// ChannelPolicy is the length and style contract for one channel.
// The writer puts it in the prompt and enforces it after generation; the
// critic checks drafts against it.
type ChannelPolicy struct {
	Channel            ChannelID `json:"channel" yaml:"channel"`
	MaxWords           int       `json:"max_words" yaml:"max_words"`
	MaxSentences       int       `json:"max_sentences,omitempty" yaml:"max_sentences,omitempty"` // 0 = unbounded
	RequiresSubject    bool      `json:"requires_subject" yaml:"requires_subject"`
	RequiresSalutation bool      `json:"requires_salutation" yaml:"requires_salutation"`
	Style              string    `json:"style" yaml:"style"`
}

var defaultPolicies = map[ChannelID]ChannelPolicy{
	ChannelEmail: {
		Channel:            ChannelEmail,
		MaxWords:           150,
		RequiresSubject:    true,
		RequiresSalutation: true,
		Style:              "Cold email. First line is 'Subject: ...'. Greet by first name, one short paragraph of personalization, one clear ask, sign-off.",
	},
	ChannelLinkedIn: {
		Channel:      ChannelLinkedIn,
		MaxWords:     60,
		MaxSentences: 2,
		Style:        "Professional-network DM. At most two sentences. No subject line, no sign-off.",
	},
	ChannelSMS: {
		Channel:  ChannelSMS,
		MaxWords: 39,
		Style:    "Short text message under 40 words. Casual but respectful, no links unless given.",
	},
	ChannelChat: {
		Channel:  ChannelChat,
		MaxWords: 80,
		Style:    "Conversational chat reply. Plain sentences, no subject, no signature.",
	},
}

// Policy returns the default policy for the channel.
func (c ChannelID) Policy() ChannelPolicy {
	if p, ok := defaultPolicies[c]; ok {
		return p
	}
	return ChannelPolicy{Channel: c, MaxWords: 100, Style: "Plain outreach message."}
}

// PromptConstraints renders the policy as prompt instructions.
func (p ChannelPolicy) PromptConstraints() string {
	lines := []string{fmt.Sprintf("Channel: %s", p.Channel), p.Style}
	lines = append(lines, fmt.Sprintf("Hard limit: %d words.", p.MaxWords))
	if p.MaxSentences > 0 {
		lines = append(lines, fmt.Sprintf("Hard limit: %d sentences.", p.MaxSentences))
	}
	if p.RequiresSubject {
		lines = append(lines, "Start with a line 'Subject: <subject>'.")
	}
	if p.RequiresSalutation {
		lines = append(lines, "Open with a salutation addressing the prospect by first name.")
	}
	return strings.Join(lines, "\n")
}

// Violations lists the ways text breaks the policy.
func (p ChannelPolicy) Violations(text string) []string {
	var problems []string
	body := text
	if p.RequiresSubject {
		subject, rest := SplitSubject(text)
		if subject == "" {
			problems = append(problems, "missing subject line")
		}
		body = rest
	}
	if n := WordCount(body); p.MaxWords > 0 && n > p.MaxWords {
		problems = append(problems, fmt.Sprintf("%d words exceeds limit of %d", n, p.MaxWords))
	}
	if n := len(Sentences(body)); p.MaxSentences > 0 && n > p.MaxSentences {
		problems = append(problems, fmt.Sprintf("%d sentences exceeds limit of %d", n, p.MaxSentences))
	}
	if p.RequiresSalutation && !hasSalutation(body) {
		problems = append(problems, "missing salutation")
	}
	return problems
}

// Enforce applies the post-hoc truncation and structural fixes the policy allows.
// subject and firstName are used only when the draft lacks them.
func (p ChannelPolicy) Enforce(text, subject, firstName string) string {
	text = strings.TrimSpace(text)
	var subjectLine string
	body := text
	if p.RequiresSubject {
		s, rest := SplitSubject(text)
		if s == "" {
			s = subject
		}
		if s == "" {
			s = "Quick question"
		}
		subjectLine = "Subject: " + s
		body = rest
	}
	if p.RequiresSalutation && !hasSalutation(body) {
		if firstName == "" {
			firstName = "there"
		}
		body = fmt.Sprintf("Hi %s,\n\n%s", firstName, body)
	}
	if p.MaxSentences > 0 {
		if sentences := Sentences(body); len(sentences) > p.MaxSentences {
			body = strings.Join(sentences[:p.MaxSentences], " ")
		}
	}
	if p.MaxWords > 0 {
		body = truncateWords(body, p.MaxWords)
	}
	if subjectLine != "" {
		return subjectLine + "\n\n" + strings.TrimSpace(body)
	}
	return strings.TrimSpace(body)
}

// SplitSubject separates a leading "Subject:" line from the rest of an email.
func SplitSubject(text string) (string, string) {
	text = strings.TrimSpace(text)
	first, rest, _ := strings.Cut(text, "\n")
	trimmed := strings.TrimSpace(first)
	if len(trimmed) >= 8 && strings.EqualFold(trimmed[:8], "subject:") {
		return strings.TrimSpace(trimmed[8:]), strings.TrimSpace(rest)
	}
	return "", text
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Sentences splits text on terminal punctuation, keeping the punctuation.
func Sentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(strings.TrimSpace(text))
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			next := i + 1
			if next == len(runes) || unicode.IsSpace(runes[next]) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func hasSalutation(body string) bool {
	first := strings.ToLower(strings.TrimSpace(body))
	for _, greeting := range []string{"hi ", "hi,", "hello", "dear ", "hey ", "good morning", "good afternoon"} {
		if strings.HasPrefix(first, greeting) {
			return true
		}
	}
	return false
}

// truncateWords keeps at most n words, preserving line breaks inside the kept span.
func truncateWords(text string, n int) string {
	if WordCount(text) <= n {
		return text
	}
	count := 0
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				inWord = false
				if count == n {
					return strings.TrimRightFunc(text[:i], unicode.IsSpace)
				}
			}
			continue
		}
		if !inWord {
			inWord = true
			count++
		}
	}
	return text
}
