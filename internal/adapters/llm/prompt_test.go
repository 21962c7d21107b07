package llm

import (
	"strings"
	"testing"

	"github.com/mikey/llm-mail-triage/internal/core"
)

func promptContext() *core.PromptContext {
	return &core.PromptContext{
		Message: &core.Message{
			ExternalID: "m1",
			Sender:     "pat@client.com",
			Subject:    "Q3 invoice",
			Snippet:    "Please find attached...",
		},
	}
}

func TestBuildPromptIncludesContext(t *testing.T) {
	pc := promptContext()
	pc.SenderDistribution = map[string]int{"Finance": 7}
	pc.ThreadMessages = []core.ThreadMessage{{Sender: "me@mycorp.com", Snippet: "sending it over"}}

	prompt := BuildPrompt(pc)
	for _, want := range []string{
		"pat@client.com", "Q3 invoice", "Please find attached",
		"Finance: 7 emails", "sending it over",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptInheritedFolder(t *testing.T) {
	pc := promptContext()
	pc.InheritedFolder = "Projects/X"

	prompt := BuildPrompt(pc)
	if !strings.Contains(prompt, `"Projects/X"`) {
		t.Fatal("prompt does not pin the inherited folder")
	}
	if strings.Contains(prompt, "the folder the email belongs in") {
		t.Fatal("inherited prompt must not ask for a free folder choice")
	}
}

func TestParseResponse(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"clean", `{"folder":"Work","priority":"P2","action_type":"respond","confidence":0.9,"rationale":"r"}`, true},
		{"fenced", "```json\n{\"folder\":\"Work\",\"priority\":\"p3\",\"action_type\":\"FILE\",\"confidence\":0.4,\"rationale\":\"r\"}\n```", true},
		{"prose wrapped", `Sure! Here you go: {"folder":"Work","priority":"P4","action_type":"none","confidence":1,"rationale":""} Hope that helps.`, true},
		{"no json", "I cannot classify this email.", false},
		{"truncated", `{"folder":"Work","priority":"P2"`, false},
		{"bad priority", `{"folder":"Work","priority":"urgent","action_type":"respond","confidence":0.9,"rationale":"r"}`, false},
		{"bad action", `{"folder":"Work","priority":"P2","action_type":"panic","confidence":0.9,"rationale":"r"}`, false},
		{"missing folder", `{"priority":"P2","action_type":"respond","confidence":0.9,"rationale":"r"}`, false},
		{"confidence out of range", `{"folder":"Work","priority":"P2","action_type":"respond","confidence":1.5,"rationale":"r"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cl, err := ParseResponse(tc.in, "test-model")
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if cl.Model != "test-model" {
					t.Fatalf("model = %q", cl.Model)
				}
				return
			}
			if err == nil {
				t.Fatal("expected a parse error")
			}
			if !core.IsPermanent(err) {
				t.Fatalf("parse failures must be permanent, got %v", err)
			}
		})
	}
}

func TestParseResponseNormalizesEnums(t *testing.T) {
	cl, err := ParseResponse(`{"folder":"Work","priority":" p1 ","action_type":"Respond","confidence":0.8,"rationale":"r"}`, "m")
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if cl.Priority != core.PriorityP1 || cl.ActionType != core.ActionRespond {
		t.Fatalf("normalized = %v/%v", cl.Priority, cl.ActionType)
	}
}
