package gmail

import (
	"errors"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/mikey/llm-mail-triage/internal/core"
)

func TestSenderAddress(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Pat Doe <Pat.Doe@Client.com>", "pat.doe@client.com"},
		{"noreply@github.com", "noreply@github.com"},
		{"<billing@saas.app>", "billing@saas.app"},
		{"not an address", "not an address"},
	}
	for _, tc := range cases {
		if got := senderAddress(tc.in); got != tc.want {
			t.Errorf("senderAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFolderOf(t *testing.T) {
	cases := []struct {
		labels []string
		want   string
	}{
		{[]string{"INBOX", "UNREAD"}, "INBOX"},
		{[]string{"INBOX", "Label_42", "UNREAD"}, "Label_42"},
		{[]string{"CATEGORY_PROMOTIONS", "INBOX"}, "INBOX"},
		{nil, "INBOX"},
	}
	for _, tc := range cases {
		if got := folderOf(tc.labels); got != tc.want {
			t.Errorf("folderOf(%v) = %q, want %q", tc.labels, got, tc.want)
		}
	}
}

func TestIsReplySubject(t *testing.T) {
	if !isReplySubject("Re: hello") || !isReplySubject("  FWD: x") {
		t.Fatal("reply markers not detected")
	}
	if isReplySubject("regarding the invoice") {
		t.Fatal("plain subject misread as reply")
	}
}

func TestMapError(t *testing.T) {
	rate := &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}
	if _, ok := core.AsRateLimit(mapError("list messages", rate)); !ok {
		t.Fatal("403 rateLimitExceeded must map to a rate-limit error")
	}

	tooMany := &googleapi.Error{Code: http.StatusTooManyRequests}
	if _, ok := core.AsRateLimit(mapError("list messages", tooMany)); !ok {
		t.Fatal("429 must map to a rate-limit error")
	}

	if !core.IsTransient(mapError("get thread", &googleapi.Error{Code: 503})) {
		t.Fatal("5xx must map to a transient error")
	}

	if !errors.Is(mapError("get message", &googleapi.Error{Code: 404}), core.ErrNotFound) {
		t.Fatal("404 must map to ErrNotFound")
	}

	if !core.IsPermanent(mapError("move message", &googleapi.Error{Code: 400})) {
		t.Fatal("4xx must map to a permanent error")
	}

	if !core.IsTransient(mapError("list messages", errors.New("connection reset"))) {
		t.Fatal("transport errors must map to transient")
	}
}
