package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"user-level-system/logger"
	"user-level-system/services"
	"user-level-system/utils"
)

const progressEndpoint = "/api/v1/public/level-progress"

// RemoteProgress is one counter as reported by the upstream activity service.
type RemoteProgress struct {
	UserID    string    `json:"user_id"`
	RuleID    string    `json:"rule_id"`
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type progressChangesResponse struct {
	Progress []RemoteProgress `json:"progress"`
}

// ProgressSyncClient fetches changed counters from the upstream service.
type ProgressSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewProgressSyncClient(baseURL, token string) *ProgressSyncClient {
	return &ProgressSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: utils.NewHTTPClient(30 * time.Second),
	}
}

func (c *ProgressSyncClient) GetChangedProgress(ctx context.Context, since time.Time) ([]RemoteProgress, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid progress sync URL %q: %w", c.BaseURL, err)
	}
	u := base.JoinPath(progressEndpoint)
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call progress service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("progress service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response progressChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode progress service response: %w", err)
	}
	return response.Progress, nil
}

// ProgressFetcher is satisfied by *ProgressSyncClient.
type ProgressFetcher interface {
	GetChangedProgress(ctx context.Context, since time.Time) ([]RemoteProgress, error)
}

// SyncedProgressWriter is satisfied by *services.ProgressService.
type SyncedProgressWriter interface {
	ApplySynced(ctx context.Context, values []services.SyncedValue) ([]string, int, error)
}

// Advancer is satisfied by *services.UpgradeService.
type Advancer interface {
	Advance(ctx context.Context, user services.User) (services.Outcome, error)
}

// ProgressSyncWorker mirrors upstream counters and re-evaluates every touched user.
type ProgressSyncWorker struct {
	client   ProgressFetcher
	progress SyncedProgressWriter
	upgrades Advancer
	log      *logger.Logger
	interval time.Duration
	now      func() time.Time

	lastSync time.Time
}

func NewProgressSyncWorker(client ProgressFetcher, progress SyncedProgressWriter, upgrades Advancer, log *logger.Logger, interval time.Duration) *ProgressSyncWorker {
	now := time.Now
	return &ProgressSyncWorker{
		client:   client,
		progress: progress,
		upgrades: upgrades,
		log:      log,
		interval: interval,
		now:      now,
		lastSync: now().UTC().Add(-24 * time.Hour),
	}
}

// Run polls until ctx is done.
func (w *ProgressSyncWorker) Run(ctx context.Context) {
	w.log.Info("[SYNC] progress polling started", "interval", w.interval.String())
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("[SYNC] progress polling stopped")
			return
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.Warn("[SYNC] batch failed, retrying same window next tick", "since", w.lastSync, "error", err)
			}
		}
	}
}

// SyncResult summarizes one poll.
type SyncResult struct {
	Received int
	Skipped  int
	Users    int
	Advanced int
}

// SyncOnce fetches changes since the last successful poll, stores them, then runs
// Advance for each touched user. The window only moves forward when the fetch and
// the store both succeed.
func (w *ProgressSyncWorker) SyncOnce(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	started := w.now().UTC()

	changes, err := w.client.GetChangedProgress(ctx, w.lastSync)
	if err != nil {
		return res, err
	}
	res.Received = len(changes)
	if len(changes) == 0 {
		w.lastSync = started
		w.log.Debug("[SYNC] no progress changes")
		return res, nil
	}

	values := make([]services.SyncedValue, 0, len(changes))
	for _, c := range changes {
		values = append(values, services.SyncedValue{UserID: c.UserID, RuleID: c.RuleID, Value: c.Value})
	}
	users, skipped, err := w.progress.ApplySynced(ctx, values)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped
	res.Users = len(users)
	w.lastSync = started

	// Counters are committed; a failed Advance is picked up by the next sweep.
	for _, id := range users {
		out, err := w.upgrades.Advance(ctx, services.UserID(id))
		if err != nil {
			w.log.Warn("[SYNC] advance failed", "user_id", id, "error", err)
			continue
		}
		if out.Changed() {
			res.Advanced++
		}
	}

	w.log.Info("[SYNC] progress synced",
		"received", res.Received, "skipped", res.Skipped, "users", res.Users, "advanced", res.Advanced)
	return res, nil
}

// LastSync is the start of the window the next poll will request.
func (w *ProgressSyncWorker) LastSync() time.Time {
	return w.lastSync
}
