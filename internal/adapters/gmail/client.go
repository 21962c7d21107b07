package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// NewService initializes an OAuth-backed Gmail service from a client
// credentials file and a cached token file. The token must already exist;
// obtaining one is an interactive step done outside the daemon.
func NewService(ctx context.Context, credentialsFile, tokenFile string) (*gmailv1.Service, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials at %s: %w", credentialsFile, err)
	}

	cfg, err := google.ConfigFromJSON(b,
		gmailv1.GmailReadonlyScope,
		gmailv1.GmailModifyScope,
		gmailv1.GmailLabelsScope,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse oauth config: %w", err)
	}

	tok, err := readToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth token at %s: %w", tokenFile, err)
	}

	client := cfg.Client(ctx, tok)
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}
