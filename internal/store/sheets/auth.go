package sheets

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// DefaultTokenFile caches the OAuth token of the installed-app flow.
const DefaultTokenFile = "auth_cache.json"

const serviceAccountType = "service_account"

// Prompt is the terminal used for the first-run consent flow.
type Prompt struct {
	In  io.Reader
	Out io.Writer
}

// ClientFromFile returns an authenticated HTTP client for the Sheets API.
// credentialsPath holds either a service-account key or an OAuth client
// secret; for the latter the token is cached in tokenPath and, when absent,
// obtained by asking the user to visit a consent URL.
func ClientFromFile(ctx context.Context, credentialsPath, tokenPath string, prompt Prompt) (*http.Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	kind, err := credentialsType(data)
	if err != nil {
		return nil, err
	}
	if kind == serviceAccountType {
		conf, err := google.JWTConfigFromJSON(data, sheetsapi.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account: %w", err)
		}
		return conf.Client(ctx), nil
	}

	conf, err := google.ConfigFromJSON(data, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	if tokenPath == "" {
		tokenPath = DefaultTokenFile
	}

	tok, err := loadToken(tokenPath)
	if err != nil {
		tok, err = tokenFromWeb(ctx, conf, prompt)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, err
		}
	}
	return conf.Client(ctx, tok), nil
}

func credentialsType(data []byte) (string, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	return probe.Type, nil
}

func tokenFromWeb(ctx context.Context, conf *oauth2.Config, prompt Prompt) (*oauth2.Token, error) {
	if prompt.In == nil || prompt.Out == nil {
		return nil, errors.New("no cached token and no terminal for authorization")
	}
	url := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(prompt.Out, "Open the following link in your browser, then paste the authorization code:\n%s\n> ", url)

	code, err := bufio.NewReader(prompt.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("empty authorization code")
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}
