package extract_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/embedchat/chatd/internal/db"
	"github.com/embedchat/chatd/internal/extract"
	"github.com/embedchat/chatd/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeExtractor struct {
	mu      sync.Mutex
	calls   []time.Time
	profile *extract.Profile
	err     error
}

func (f *fakeExtractor) ExtractProfile(ctx context.Context, history []extract.Turn) (*extract.Profile, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

func (f *fakeExtractor) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls...)
}

func newTestVisitor(t *testing.T) (*db.Database, *models.Visitor) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "chatd-test.db"))
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	ctx := context.Background()
	if err := database.EnsureProperty(ctx, "p1", ""); err != nil {
		t.Fatalf("EnsureProperty failed: %v", err)
	}
	visitor := &models.Visitor{ID: uuid.NewString(), PropertyID: "p1", SessionID: "s1"}
	if err := database.UpsertVisitor(ctx, visitor); err != nil {
		t.Fatalf("UpsertVisitor failed: %v", err)
	}
	return database, visitor
}

func sampleHistory() []extract.Turn {
	return []extract.Turn{
		{Role: "visitor", Content: "Hi, I'm Ada, ada@example.com"},
		{Role: "agent", Content: "Thanks Ada, how can I help?"},
	}
}

func TestExtractInsufficientData(t *testing.T) {
	database, visitor := newTestVisitor(t)
	fake := &fakeExtractor{err: errors.New("should not be called")}
	client := extract.NewClient(database, fake, zap.NewNop(), 3)

	result := client.Extract(context.Background(), visitor.ID, []extract.Turn{
		{Role: "visitor", Content: "hello"},
	})

	if result.Success {
		t.Fatal("expected failure for short history")
	}
	if result.Error != extract.InsufficientDataError {
		t.Fatalf("expected %q, got %q", extract.InsufficientDataError, result.Error)
	}
	if len(fake.callTimes()) != 0 {
		t.Fatal("expected no extraction attempts for short history")
	}
}

func TestExtractSuccessUpdatesProfile(t *testing.T) {
	database, visitor := newTestVisitor(t)
	fake := &fakeExtractor{profile: &extract.Profile{Name: "Ada", Email: "ada@example.com"}}
	client := extract.NewClient(database, fake, zap.NewNop(), 3)

	result := client.Extract(context.Background(), visitor.ID, sampleHistory())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if calls := len(fake.callTimes()); calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}

	got, err := database.GetVisitor(context.Background(), visitor.ID)
	if err != nil {
		t.Fatalf("GetVisitor failed: %v", err)
	}
	if got.Name != "Ada" || got.Email != "ada@example.com" {
		t.Fatalf("profile not written, got name=%q email=%q", got.Name, got.Email)
	}
}

func TestExtractNilProfileLeavesVisitorUntouched(t *testing.T) {
	database, visitor := newTestVisitor(t)
	if err := database.UpdateVisitorProfile(context.Background(), visitor.ID, "Ada", "ada@example.com"); err != nil {
		t.Fatalf("UpdateVisitorProfile failed: %v", err)
	}

	// Succeeds but hands back no profile at all.
	fake := &fakeExtractor{}
	client := extract.NewClient(database, fake, zap.NewNop(), 3)

	result := client.Extract(context.Background(), visitor.ID, sampleHistory())
	if !result.Success {
		t.Fatalf("expected success for empty extraction, got %+v", result)
	}

	got, err := database.GetVisitor(context.Background(), visitor.ID)
	if err != nil {
		t.Fatalf("GetVisitor failed: %v", err)
	}
	if got.Name != "Ada" || got.Email != "ada@example.com" {
		t.Fatalf("empty extraction altered profile: name=%q email=%q", got.Name, got.Email)
	}
}

func TestExtractRetriesWithBackoff(t *testing.T) {
	database, visitor := newTestVisitor(t)
	fake := &fakeExtractor{err: errors.New("upstream unavailable")}
	client := extract.NewClient(database, fake, zap.NewNop(), 3)

	result := client.Extract(context.Background(), visitor.ID, sampleHistory())
	if result.Success {
		t.Fatal("expected terminal failure")
	}
	if result.Error != "upstream unavailable" {
		t.Fatalf("expected last failure reason, got %q", result.Error)
	}

	calls := fake.callTimes()
	if len(calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(calls))
	}

	// Backoff doubles: ~500ms then ~1000ms between attempts.
	checkGap(t, calls[1].Sub(calls[0]), 500*time.Millisecond)
	checkGap(t, calls[2].Sub(calls[1]), 1000*time.Millisecond)
}

func checkGap(t *testing.T, got, want time.Duration) {
	t.Helper()
	if got < want-50*time.Millisecond || got > want+300*time.Millisecond {
		t.Fatalf("expected gap near %v, got %v", want, got)
	}
}

func TestExtractStopsWhenContextCancelled(t *testing.T) {
	database, visitor := newTestVisitor(t)
	fake := &fakeExtractor{err: errors.New("upstream unavailable")}
	client := extract.NewClient(database, fake, zap.NewNop(), 3)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := client.Extract(ctx, visitor.ID, sampleHistory())
	elapsed := time.Since(start)

	if result.Success {
		t.Fatal("expected failure after cancellation")
	}
	if elapsed > time.Second {
		t.Fatalf("expected an abandoned call to stop retrying, took %v", elapsed)
	}
	if len(fake.callTimes()) != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", len(fake.callTimes()))
	}
}
