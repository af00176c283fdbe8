package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	googleoauth "golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/calendar/v3"

	"sleepcal/internal/calstore"
)

const (
	// EnvCredentials holds service-account JSON, raw or base64 encoded.
	EnvCredentials = "GOOGLE_CALENDAR_CREDENTIALS"
	// DefaultCredentialsFile is tried when nothing else is configured.
	DefaultCredentialsFile = "service-account.json"

	defaultTimeout = 30 * time.Second
)

// Credentials is a parsed service-account key scoped to Calendar.
type Credentials struct {
	ClientEmail string
	ProjectID   string
	// JWT drives the two-legged token flow. TokenURL may be overridden
	// before HTTPClient is called.
	JWT *jwt.Config
}

// HTTPClient returns a client that authorizes every request with a cached,
// auto-refreshed access token. ctx bounds token refreshes.
func (c *Credentials) HTTPClient(ctx context.Context) *http.Client {
	hc := c.JWT.Client(ctx)
	hc.Timeout = defaultTimeout
	return hc
}

// CredentialSource lists the places credentials may come from, in priority
// order: JSON, File, the EnvCredentials variable, DefaultCredentialsFile.
type CredentialSource struct {
	// JSON is raw or base64-encoded key JSON.
	JSON string
	File string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// LoadCredentials resolves and parses service-account credentials. All
// failures wrap calstore.ErrConfiguration.
func LoadCredentials(src CredentialSource) (*Credentials, error) {
	data, from, err := src.read()
	if err != nil {
		return nil, fmt.Errorf("%w: google credentials from %s: %v", calstore.ErrConfiguration, from, err)
	}

	cfg, err := googleoauth.JWTConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("%w: google credentials from %s: %v", calstore.ErrConfiguration, from, err)
	}
	switch {
	case cfg.Email == "":
		err = errors.New("client_email is empty")
	case len(cfg.PrivateKey) == 0:
		err = errors.New("private_key is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: google credentials from %s: %v", calstore.ErrConfiguration, from, err)
	}

	var meta struct {
		ProjectID string `json:"project_id"`
	}
	_ = json.Unmarshal(data, &meta)

	return &Credentials{ClientEmail: cfg.Email, ProjectID: meta.ProjectID, JWT: cfg}, nil
}

func (src CredentialSource) read() ([]byte, string, error) {
	getenv := src.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	switch {
	case strings.TrimSpace(src.JSON) != "":
		data, err := jsonOrBase64(src.JSON, false)
		return data, "inline json", err
	case src.File != "":
		data, err := os.ReadFile(src.File)
		return data, src.File, err
	case strings.TrimSpace(getenv(EnvCredentials)) != "":
		data, err := jsonOrBase64(getenv(EnvCredentials), true)
		return data, EnvCredentials, err
	default:
		data, err := os.ReadFile(DefaultCredentialsFile)
		return data, DefaultCredentialsFile, err
	}
}

// jsonOrBase64 accepts either encoding. Inline values are tried as JSON
// first; environment values as base64 first.
func jsonOrBase64(v string, base64First bool) ([]byte, error) {
	v = strings.TrimSpace(v)
	asJSON := func() ([]byte, bool) {
		if json.Valid([]byte(v)) {
			return []byte(v), true
		}
		return nil, false
	}
	asBase64 := func() ([]byte, bool) {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil || !json.Valid(b) {
			return nil, false
		}
		return b, true
	}

	order := []func() ([]byte, bool){asJSON, asBase64}
	if base64First {
		order = []func() ([]byte, bool){asBase64, asJSON}
	}
	for _, try := range order {
		if b, ok := try(); ok {
			return b, nil
		}
	}
	return nil, errors.New("value is neither JSON nor base64-encoded JSON")
}
