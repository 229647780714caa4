package store

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/alicebob/miniredis/v2"
)

func sampleSnapshot() *models.Snapshot {
	snap := models.NewSnapshot()
	snap.UserStates["42"] = models.ConversationState{CurrentQuestion: 2, Username: "ivan", FirstName: "Иван"}
	snap.UserAnswers["42"] = models.Answers{1: "500 000", 2: "нет"}
	snap.MessageCounts["7"] = 3
	snap.Activated = []models.UserID{"42"}
	snap.Expired = []models.UserID{"9"}
	snap.Deactivated = []models.UserID{"5"}
	snap.SurveyReminderSent["42"] = true
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	snap.LastMessageTimes["42"] = at
	snap.ScheduledReminders["11"] = models.ScheduledReminder{
		UserID: "11", Chat: "11", DelayMinutes: 5, Tier: models.TierFirst,
		ScheduledAt: at.Add(5 * time.Minute), CreatedAt: at,
	}
	return snap
}

func checkSnapshot(t *testing.T, got *models.Snapshot) {
	t.Helper()
	if got.Version != models.SnapshotVersion {
		t.Errorf("version = %d, want %d", got.Version, models.SnapshotVersion)
	}
	if got.UserStates["42"].CurrentQuestion != 2 || got.UserStates["42"].Username != "ivan" {
		t.Errorf("user state not restored: %+v", got.UserStates["42"])
	}
	if got.UserAnswers["42"][2] != "нет" {
		t.Errorf("answers not restored: %+v", got.UserAnswers["42"])
	}
	if got.MessageCounts["7"] != 3 {
		t.Errorf("message count = %d, want 3", got.MessageCounts["7"])
	}
	if len(got.Activated) != 1 || len(got.Expired) != 1 || len(got.Deactivated) != 1 {
		t.Errorf("activation sets not restored: %v %v %v", got.Activated, got.Expired, got.Deactivated)
	}
	r, ok := got.ScheduledReminders["11"]
	if !ok || r.Tier != models.TierFirst || r.DelayMinutes != 5 {
		t.Errorf("scheduled reminder not restored: %+v", r)
	}
	if !got.LastMessageTimes["42"].Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("last message time = %v", got.LastMessageTimes["42"])
	}
}

func app(id string, at time.Time) models.Application {
	return models.Application{ID: id, UserID: models.UserID(id), PhoneNumber: "+79001234567", CreatedAt: at}
}

func exerciseApplications(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := s.AppendApplication(ctx, app("old", now.Add(-8*24*time.Hour))); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if err := s.AppendApplication(ctx, app("a", now.Add(-time.Hour))); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if err := s.AppendApplication(ctx, app("b", now)); err != nil {
		t.Fatalf("append b: %v", err)
	}
	apps, err := s.ListApplications(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("expected 2 retained applications, got %d", len(apps))
	}
	if apps[0].ID != "b" || apps[1].ID != "a" {
		t.Errorf("expected newest first, got %s, %s", apps[0].ID, apps[1].ID)
	}

	removed, err := s.PruneApplications(ctx, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":           DSNTypePostgres,
		"postgresql://localhost/db":             DSNTypePostgres,
		"host=localhost dbname=leads user=bot":  DSNTypePostgres,
		"redis://localhost:6379/0":              DSNTypeRedis,
		"file:/var/lib/leadpipe/state.db?_fk=1": DSNTypeSQLite,
		"/var/lib/leadpipe/state.sqlite3":       DSNTypeSQLite,
		"/var/lib/leadpipe/users_data.json":     DSNTypeFile,
		"":                                      DSNTypeFile,
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	empty, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !empty.IsEmpty() {
		t.Error("fresh store should load an empty snapshot")
	}

	if err := s.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkSnapshot(t, got)
	if s.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", s.Saves())
	}
	exerciseApplications(t, s)
}

func TestFileStoreMissingFileLoadsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(WithDSN(filepath.Join(dir, "users_data.json")), WithFallbackPath(filepath.Join(dir, "fallback.json")))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	snap, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.IsEmpty() || snap.Version != models.SnapshotVersion {
		t.Errorf("expected empty current-version snapshot, got %+v", snap)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "users_data.json")
	s, err := NewFileStore(WithDSN(path), WithFallbackPath(filepath.Join(dir, "fallback.json")))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	if err := s.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file not written: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "state", "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}

	reopened, _ := NewFileStore(WithDSN(path))
	got, err := reopened.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	checkSnapshot(t, got)
}

func TestFileStoreLoadsLegacySnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users_data.json")
	legacy := `{"user_states":{"42":{"current_question":1,"waiting_for_contact":false}},"activated_users":["42"]}`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}
	s, _ := NewFileStore(WithDSN(path))
	got, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.UserStates["42"].CurrentQuestion != 1 {
		t.Errorf("unexpected state %+v", got.UserStates["42"])
	}
	if got.ScheduledReminders == nil || got.Deactivated == nil {
		t.Error("missing fields should default")
	}
}

func TestFileStoreCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users_data.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	s, _ := NewFileStore(WithDSN(path))
	if _, err := s.LoadSnapshot(context.Background()); err == nil {
		t.Error("expected decode error for corrupt snapshot")
	}
}

func TestFileStoreFallsBackWhenPrimaryNotWritable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	dir := t.TempDir()
	locked := filepath.Join(dir, "locked")
	if err := os.MkdirAll(locked, 0500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	fallback := filepath.Join(dir, "fallback.json")
	s, _ := NewFileStore(WithDSN(filepath.Join(locked, "users_data.json")), WithFallbackPath(fallback))
	if err := s.SaveSnapshot(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot should fall back, got %v", err)
	}
	if _, err := os.Stat(fallback); err != nil {
		t.Fatalf("fallback file not written: %v", err)
	}
	got, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	checkSnapshot(t, got)
}

func TestFileStoreApplications(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(WithDSN(filepath.Join(dir, "users_data.json")))
	exerciseApplications(t, s)
	if _, err := os.Stat(filepath.Join(dir, DefaultApplicationsFileName)); err != nil {
		t.Errorf("applications file not written: %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "leadpipe.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	empty, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !empty.IsEmpty() {
		t.Error("expected empty snapshot from new database")
	}
	if err := s.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	// Second save replaces the single row.
	if err := s.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot (replace): %v", err)
	}
	got, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	checkSnapshot(t, got)
	exerciseApplications(t, s)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := NewRedisStore(WithRedisURL("redis://" + mr.Addr() + "/0"))
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	empty, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !empty.IsEmpty() {
		t.Error("expected empty snapshot")
	}
	if err := s.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	checkSnapshot(t, got)
	exerciseApplications(t, s)
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(func() { pgStore.Close() })
	pgStore.db.Exec("DELETE FROM snapshots")
	pgStore.db.Exec("DELETE FROM applications")

	ctx := context.Background()
	if err := pgStore.SaveSnapshot(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := pgStore.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	checkSnapshot(t, got)
	exerciseApplications(t, pgStore)
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

func TestSQLStoresRequireDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error for empty SQLite DSN")
	}
	if _, err := NewPostgresStore(); err == nil {
		t.Error("expected error for empty Postgres DSN")
	}
	if got := sqliteFilePath("file:/tmp/a.db?_foreign_keys=on"); got != "/tmp/a.db" {
		t.Errorf("sqliteFilePath = %q", got)
	}
}
