package postgres

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/storage"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}
	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("shu_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container (is podman running?): %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestPostgres_SaveAndGet(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	saved, err := store.SaveMessage(ctx, storage.SaveMessageParams{
		ConversationID:       "conv-1",
		Role:                 api.RoleAssistant,
		Content:              "persisted reply",
		ModelConfigurationID: "cfg-1",
		ParentID:             "msg-user",
		VariantIndex:         1,
		Metadata:             map[string]any{"finish_reason": "stop", "total_tokens": float64(12)},
	})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	got, err := store.GetMessage(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Content != "persisted reply" || got.VariantIndex != 1 || got.ParentID != "msg-user" {
		t.Errorf("got %+v", got)
	}
	if got.Metadata["finish_reason"] != "stop" {
		t.Errorf("metadata = %+v", got.Metadata)
	}
}

func TestPostgres_GetNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetMessage(context.Background(), "msg_does_not_exist")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgres_ListConversation(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	for i, content := range []string{"one", "two", "three"} {
		if _, err := store.SaveMessage(ctx, storage.SaveMessageParams{
			ConversationID: "conv-list",
			Role:           api.RoleAssistant,
			Content:        content,
			VariantIndex:   i,
		}); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	messages, err := store.ListConversation(ctx, "conv-list")
	if err != nil {
		t.Fatalf("ListConversation: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	for i, want := range []string{"one", "two", "three"} {
		if messages[i].Content != want {
			t.Errorf("messages[%d] = %q, want %q", i, messages[i].Content, want)
		}
	}
}

func TestPostgres_TenantScoping(t *testing.T) {
	store := setupTestDB(t)
	ctxA := storage.SetTenant(context.Background(), "tenant-a")
	ctxB := storage.SetTenant(context.Background(), "tenant-b")

	saved, err := store.SaveMessage(ctxA, storage.SaveMessageParams{
		ConversationID: "conv-tenant",
		Role:           api.RoleUser,
		Content:        "private",
	})
	if err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if _, err := store.GetMessage(ctxB, saved.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-tenant read = %v, want ErrNotFound", err)
	}
	if _, err := store.GetMessage(ctxA, saved.ID); err != nil {
		t.Errorf("same-tenant read failed: %v", err)
	}
}

func TestPostgres_RecordUsage(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	err := store.RecordUsage(ctx, storage.UsageRecord{
		ProviderID:     "provider-1",
		Model:          "model-x",
		RequestType:    storage.RequestTypeChatStream,
		InputTokens:    120,
		OutputTokens:   40,
		Cost:           0.0021,
		ResponseTimeMs: 830,
		Success:        true,
	})
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	err = store.RecordUsage(ctx, storage.UsageRecord{
		ProviderID:   "provider-1",
		Model:        "model-x",
		RequestType:  storage.RequestTypeChat,
		Success:      false,
		ErrorMessage: "upstream server error",
	})
	if err != nil {
		t.Fatalf("RecordUsage (failure record): %v", err)
	}

	var count int
	if err := store.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM usage_records WHERE provider_id = $1", "provider-1",
	).Scan(&count); err != nil {
		t.Fatalf("counting usage records: %v", err)
	}
	if count != 2 {
		t.Errorf("usage records = %d, want 2", count)
	}
}
