package translator

import (
	"context"
	"fmt"
	"html"

	translate "cloud.google.com/go/translate"
	"google.golang.org/api/option"

	"github.com/valpere/llmvalues/internal/languages"
	"github.com/valpere/llmvalues/internal/placeholder"
)

// GoogleProvider uses the Cloud Translation v2 API. The client is created once
// and shared; call Close when done.
type GoogleProvider struct {
	client *translate.Client
}

// NewGoogleProvider builds a client from a credentials file, or from the
// ambient application default credentials when the path is empty.
func NewGoogleProvider(ctx context.Context, credentialsFile string) (*GoogleProvider, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func (p *GoogleProvider) Name() string {
	return "google"
}

func (p *GoogleProvider) Model() string {
	return "google-translate-v2"
}

func (p *GoogleProvider) Translate(ctx context.Context, req Request) (string, error) {
	target, err := languages.Lookup(req.Target)
	if err != nil {
		return "", err
	}

	var opts *translate.Options
	if req.Source != "" {
		source, err := languages.Lookup(req.Source)
		if err != nil {
			return "", err
		}
		opts = &translate.Options{Source: source, Format: translate.Text}
	} else {
		opts = &translate.Options{Format: translate.Text}
	}

	protected, markers := placeholder.Protect(req.Text)
	translations, err := p.client.Translate(ctx, []string{protected}, target, opts)
	if err != nil {
		return "", fmt.Errorf("translation failed: %w", err)
	}
	if len(translations) == 0 {
		return "", fmt.Errorf("no translation returned")
	}

	return placeholder.Restore(html.UnescapeString(translations[0].Text), markers), nil
}

func (p *GoogleProvider) Close() error {
	return p.client.Close()
}
