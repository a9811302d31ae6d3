package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

const (
	usageEndpoint  = "https://api.anthropic.com/api/oauth/usage"
	oauthBetaFlag  = "oauth-2025-04-20"
	syncTimeout    = 10 * time.Second
	syncMinSpacing = 5 * time.Minute
)

var (
	// ErrNoCredentials means no usable OAuth token was found on disk.
	ErrNoCredentials = errors.New("no assistant credentials found")
	// ErrSyncThrottled means a sync ran too recently.
	ErrSyncThrottled = errors.New("usage sync throttled")
)

// UsageReport is the upstream view of the current five-hour window.
type UsageReport struct {
	FiveHour struct {
		Utilization float64   `json:"utilization"` // percent of the window limit consumed
		ResetsAt    time.Time `json:"resets_at"`
	} `json:"five_hour"`
	SevenDay struct {
		Utilization float64   `json:"utilization"`
		ResetsAt    time.Time `json:"resets_at"`
	} `json:"seven_day"`
}

// credentialsFile mirrors the assistant CLI's on-disk credential store.
type credentialsFile struct {
	ClaudeAiOauth struct {
		AccessToken string `json:"accessToken"`
	} `json:"claudeAiOauth"`
}

// Syncer pulls real usage from the provider and corrects local accounting.
type Syncer struct {
	acct     *Accountant
	client   *http.Client
	limiter  *rate.Limiter
	endpoint string

	// credentialsPath overrides the default token location in tests.
	credentialsPath string
}

// NewSyncer builds a syncer for the accountant. Syncs are spaced at least
// five minutes apart so manual and automatic triggers cannot hammer the API.
func NewSyncer(acct *Accountant) *Syncer {
	return &Syncer{
		acct:     acct,
		client:   &http.Client{Timeout: syncTimeout},
		limiter:  rate.NewLimiter(rate.Every(syncMinSpacing), 1),
		endpoint: usageEndpoint,
	}
}

// loadToken reads the OAuth access token from the assistant CLI's
// credential file.
func (s *Syncer) loadToken() (string, error) {
	path := s.credentialsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, ".claude", ".credentials.json")
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("reading credentials: %w", err)
	}

	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parsing credentials: %w", err)
	}
	if creds.ClaudeAiOauth.AccessToken == "" {
		return "", ErrNoCredentials
	}
	return creds.ClaudeAiOauth.AccessToken, nil
}

// Fetch queries the provider's usage endpoint without applying corrections.
func (s *Syncer) Fetch(ctx context.Context) (*UsageReport, error) {
	token, err := s.loadToken()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("anthropic-beta", oauthBetaFlag)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying usage endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("usage endpoint returned %s: %s", resp.Status, body)
	}

	var report UsageReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("parsing usage response: %w", err)
	}
	return &report, nil
}

// Sync fetches upstream usage and corrects the local window accounting.
func (s *Syncer) Sync(ctx context.Context, now time.Time) (*UsageReport, error) {
	if !s.limiter.Allow() {
		return nil, ErrSyncThrottled
	}
	report, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.acct.ApplyUtilization(ctx, report.FiveHour.Utilization, now); err != nil {
		return nil, err
	}
	return report, nil
}
