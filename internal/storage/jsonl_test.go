package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDB_ImportJSONL_MissingFile(t *testing.T) {
	dir := t.TempDir()
	db, err := OpenDB(filepath.Join(dir, "records.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	defer db.Close()

	n, err := db.ImportJSONL(context.Background(), filepath.Join(dir, "typo.jsonl"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ImportJSONL() error = %v, want os.ErrNotExist", err)
	}
	if n != 0 {
		t.Errorf("imported %d, want 0", n)
	}
}

func TestReadAll_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	content := `{"id":"a1","title":"ok"}` + "\n\n" + `{not json}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadAll(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWriteAllReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	want := testRecords()

	if err := WriteAll(path, want); err != nil {
		t.Fatalf("WriteAll() error = %v", err)
	}
	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Title != want[i].Title || got[i].Year != want[i].Year {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDB_ImportJSONL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.jsonl")
	if err := WriteAll(path, testRecords()); err != nil {
		t.Fatal(err)
	}

	db, err := OpenDB(filepath.Join(dir, "records.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	defer db.Close()

	n, err := db.ImportJSONL(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportJSONL() error = %v", err)
	}
	if n != 3 {
		t.Errorf("imported %d, want 3", n)
	}

	// Importing again replaces rather than duplicates.
	if _, err := db.ImportJSONL(context.Background(), path); err != nil {
		t.Fatalf("second ImportJSONL() error = %v", err)
	}
	count, _ := db.Count(context.Background())
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}
}

func TestDB_ExportJSONL(t *testing.T) {
	db := setupTestDB(t)
	path := filepath.Join(t.TempDir(), "export.jsonl")

	n, err := db.ExportJSONL(context.Background(), path)
	if err != nil {
		t.Fatalf("ExportJSONL() error = %v", err)
	}
	count, _ := db.Count(context.Background())
	if n != count {
		t.Errorf("exported %d, want %d", n, count)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != n {
		t.Fatalf("read back %d records, want %d", len(got), n)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ID >= got[i].ID {
			t.Errorf("records not in id order: %s before %s", got[i-1].ID, got[i].ID)
		}
	}
	want, err := db.GetRecord(context.Background(), got[0].ID)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got[0].Title != want.Title || got[0].Year != want.Year {
		t.Errorf("exported %+v, want %+v", got[0], want)
	}
}
