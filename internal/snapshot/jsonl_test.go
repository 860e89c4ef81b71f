package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/store"
)

func seededStore(t *testing.T) *store.DB {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// Created children first to show export order is by kind, not by id.
	client, err := db.Create(ctx, &schema.Record{Kind: schema.KindClient, Name: "Initech"})
	if err != nil {
		t.Fatalf("Create(client) failed: %v", err)
	}
	project, err := db.Create(ctx, &schema.Record{Kind: schema.KindProject, Name: "TPS", ClientLocalID: client.LocalID})
	if err != nil {
		t.Fatalf("Create(project) failed: %v", err)
	}
	if _, err := db.Create(ctx, &schema.Record{
		Kind:           schema.KindTask,
		Description:    schema.StringPtr("Cover sheets"),
		Duration:       900,
		Start:          time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC),
		ProjectLocalID: project.LocalID,
	}); err != nil {
		t.Fatalf("Create(task) failed: %v", err)
	}
	if _, err := db.Create(ctx, &schema.Record{Kind: schema.KindUser, Name: "peter", RetentionDays: 7}); err != nil {
		t.Fatalf("Create(user) failed: %v", err)
	}

	gone, err := db.Create(ctx, &schema.Record{Kind: schema.KindClient, Name: "Gone"})
	if err != nil {
		t.Fatalf("Create(client) failed: %v", err)
	}
	if _, err := db.MarkDeleted(ctx, schema.KindClient, gone.LocalID); err != nil {
		t.Fatalf("MarkDeleted() failed: %v", err)
	}
	return db
}

func TestExport(t *testing.T) {
	db := seededStore(t)

	var buf bytes.Buffer
	result, err := Export(context.Background(), db, &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.Records != 4 {
		t.Errorf("Records = %d, want 4", result.Records)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 4 {
		t.Errorf("wrote %d lines, want 4", lines)
	}

	recs, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	wantKinds := []schema.Kind{schema.KindUser, schema.KindClient, schema.KindProject, schema.KindTask}
	if len(recs) != len(wantKinds) {
		t.Fatalf("Read returned %d records, want %d", len(recs), len(wantKinds))
	}
	for i, want := range wantKinds {
		if recs[i].Kind != want {
			t.Errorf("record %d kind = %s, want %s", i, recs[i].Kind, want)
		}
	}
	if got := recs[2].ClientProjectName; got != "Initech - TPS" {
		t.Errorf("project label = %q, want %q", got, "Initech - TPS")
	}
	if !recs[3].Start.Equal(time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("task start = %v", recs[3].Start)
	}
}

func TestExportFile(t *testing.T) {
	db := seededStore(t)
	path := filepath.Join(t.TempDir(), "out", "snapshot.jsonl")

	result, err := ExportFile(context.Background(), db, path)
	if err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	if result.ByKind[schema.KindClient] != 1 {
		t.Errorf("ByKind[client] = %d, want 1", result.ByKind[schema.KindClient])
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if !strings.Contains(string(data), `"name":"Initech"`) {
		t.Errorf("snapshot missing client: %s", data)
	}
}

type failingLister struct{}

func (failingLister) ListActive(ctx context.Context, kind schema.Kind) ([]*schema.Record, error) {
	return nil, errors.New("disk I/O error")
}

func TestExportFile_ErrorRemovesTemp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.jsonl")

	if _, err := ExportFile(context.Background(), failingLister{}, path); err == nil {
		t.Fatal("ExportFile should fail when listing fails")
	}
	for _, p := range []string{path, path + ".tmp"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should not exist", filepath.Base(p))
		}
	}
}

func TestRead_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"malformed json", "{\"kind\":\"user\"\n{not json}\n"},
		{"unknown kind", "{\"kind\":\"invoice\",\"local_id\":1}\n"},
		{"task without start", "{\"kind\":\"task\",\"local_id\":1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.input)); err == nil {
				t.Error("Read should fail")
			}
		})
	}
}
