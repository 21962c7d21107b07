// Package llm holds the prompt format and response parsing shared by every
// classifier backend. The backends differ only in transport and error
// mapping; the contract with the model is identical.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/llm-mail-triage/internal/core"
)

const systemPrompt = "You are an email triage assistant. Respond only with JSON."

const promptHeader = `You are an email triage assistant. Classify the following email.
Respond with a JSON object containing:
- folder: string (the folder the email belongs in)
- priority: string (one of "P1", "P2", "P3", "P4"; P1 is most urgent)
- action_type: string (one of "respond", "review", "file", "delegate", "none")
- confidence: number between 0 and 1 (how confident you are in this classification)
- rationale: string (brief explanation of the classification)
`

const inheritedHeader = `You are an email triage assistant. The email below belongs to a
conversation already filed under the folder %q; keep that folder.
Respond with a JSON object containing:
- folder: string (must be %q)
- priority: string (one of "P1", "P2", "P3", "P4"; P1 is most urgent)
- action_type: string (one of "respond", "review", "file", "delegate", "none")
- confidence: number between 0 and 1
- rationale: string (brief explanation)
`

// SystemPrompt is the fixed system message for chat-style backends.
func SystemPrompt() string {
	return systemPrompt
}

// BuildPrompt renders the classification prompt for one message, including
// the sender's folder history and prior thread messages when available.
func BuildPrompt(pc *core.PromptContext) string {
	var b strings.Builder

	if pc.InheritedFolder != "" {
		fmt.Fprintf(&b, inheritedHeader, pc.InheritedFolder, pc.InheritedFolder)
	} else {
		b.WriteString(promptHeader)
	}

	if pc.Preferences != "" {
		b.WriteString("\nUser filing preferences:\n")
		b.WriteString(pc.Preferences)
		b.WriteString("\n")
	}

	if len(pc.SenderDistribution) > 0 {
		b.WriteString("\nPrevious confirmed folders for this sender:\n")
		for folder, count := range pc.SenderDistribution {
			fmt.Fprintf(&b, "- %s: %d emails\n", folder, count)
		}
	}

	if len(pc.ThreadMessages) > 0 {
		b.WriteString("\nEarlier messages in this conversation:\n")
		for _, tm := range pc.ThreadMessages {
			fmt.Fprintf(&b, "From: %s\n%s\n---\n", tm.Sender, tm.Snippet)
		}
	}

	msg := pc.Message
	b.WriteString("\nEmail:\n")
	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Body:\n%s\n", msg.Snippet)
	b.WriteString("\nRespond only with the JSON object and nothing else.")

	return b.String()
}

// classificationResponse is the wire shape expected from the model.
type classificationResponse struct {
	Folder     string  `json:"folder"`
	Priority   string  `json:"priority"`
	ActionType string  `json:"action_type"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// ParseResponse decodes the model's reply. Any malformed or out-of-enum reply
// is a *core.PermanentError so the caller never retries it.
func ParseResponse(text, model string) (*core.Classification, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, &core.PermanentError{Reason: "no JSON object in model response"}
	}

	var resp classificationResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, &core.PermanentError{Reason: "malformed JSON in model response", Err: err}
	}

	cl := &core.Classification{
		Folder:     strings.TrimSpace(resp.Folder),
		Priority:   core.Priority(strings.ToUpper(strings.TrimSpace(resp.Priority))),
		ActionType: core.ActionType(strings.ToLower(strings.TrimSpace(resp.ActionType))),
		Confidence: resp.Confidence,
		Rationale:  resp.Rationale,
		Model:      model,
	}

	if cl.Folder == "" {
		return nil, &core.PermanentError{Reason: "model response missing folder"}
	}
	if !core.ValidPriority(cl.Priority) {
		return nil, &core.PermanentError{Reason: fmt.Sprintf("model returned unknown priority %q", resp.Priority)}
	}
	if !core.ValidActionType(cl.ActionType) {
		return nil, &core.PermanentError{Reason: fmt.Sprintf("model returned unknown action type %q", resp.ActionType)}
	}
	if cl.Confidence < 0 || cl.Confidence > 1 {
		return nil, &core.PermanentError{Reason: fmt.Sprintf("model returned confidence %v outside [0,1]", resp.Confidence)}
	}

	return cl, nil
}

// extractJSON returns the outermost {...} span of text, tolerating prose or
// markdown fences around the object.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
