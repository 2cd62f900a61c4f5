package extract

import (
	"context"
	"time"

	"github.com/embedchat/chatd/internal/db"
	"go.uber.org/zap"
)

const (
	// InsufficientDataError is returned without touching the network when
	// the history is too short to say anything about the visitor.
	InsufficientDataError = "Insufficient data for extraction"

	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond
)

// Result is what callers see. Extraction is advisory: the conversation
// carries on whatever this says, so Extract never returns a Go error.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client runs best-effort profile extraction over accumulated conversation
// history and writes whatever it finds into the visitor record.
type Client struct {
	db         *db.Database
	extractor  Extractor
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
}

// NewClient builds a client. maxRetries <= 0 selects the default of 3.
func NewClient(database *db.Database, extractor Extractor, logger *zap.Logger, maxRetries int) *Client {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Client{
		db:         database,
		extractor:  extractor,
		logger:     logger,
		maxRetries: maxRetries,
		baseDelay:  defaultBaseDelay,
	}
}

// Extract asks the collaborator to pull profile fields out of the history
// and stores them on the visitor. Attempts are retried with exponential
// backoff (500ms, 1s, 2s, ...); the delay aborts early if ctx is
// cancelled, so an abandoned caller stops further attempts.
func (c *Client) Extract(ctx context.Context, visitorID string, history []Turn) Result {
	if len(history) < 2 {
		return Result{Success: false, Error: InsufficientDataError}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		profile, err := c.extractor.ExtractProfile(ctx, history)
		if err == nil {
			// A collaborator may report success with no profile; treat
			// that as an empty extraction rather than a fault.
			if profile == nil {
				profile = &Profile{}
			}
			err = c.db.UpdateVisitorProfile(ctx, visitorID, profile.Name, profile.Email)
			if err == nil {
				c.logger.Info("extracted visitor profile",
					zap.String("visitor_id", visitorID),
					zap.Int("attempt", attempt),
					zap.Bool("has_name", profile.Name != ""),
					zap.Bool("has_email", profile.Email != ""))
				return Result{Success: true}
			}
		}
		lastErr = err
		c.logger.Warn("extraction attempt failed",
			zap.String("visitor_id", visitorID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < c.maxRetries {
			if !sleepCtx(ctx, c.baseDelay<<(attempt-1)) {
				lastErr = ctx.Err()
				break
			}
		}
	}

	return Result{Success: false, Error: lastErr.Error()}
}

// sleepCtx waits for d, reporting false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
