package pmmrfile

import (
	"path/filepath"
	"testing"
)

func rec(b byte) []byte { return []byte{b, b, b, b} }

func TestAppendAndReadAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	f, err := Open(path, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	pos, err := f.Append(rec(1))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if pos != 0 {
		t.Fatalf("first append at %d, want 0", pos)
	}
	pos, err = f.Append(rec(2))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if pos != 1 {
		t.Fatalf("second append at %d, want 1", pos)
	}

	got, err := f.ReadAt(0)
	if err != nil || string(got) != string(rec(1)) {
		t.Errorf("ReadAt(0) = %v, %v, want %v, nil", got, err, rec(1))
	}
	got, err = f.ReadAt(1)
	if err != nil || string(got) != string(rec(2)) {
		t.Errorf("ReadAt(1) = %v, %v, want %v, nil", got, err, rec(2))
	}

	if _, err := f.ReadAt(2); err != ErrOutOfRange {
		t.Errorf("ReadAt(2) err = %v, want ErrOutOfRange", err)
	}
}

func TestAppendRejectsWrongSize(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "data.bin"), 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Append([]byte{1, 2, 3}); err == nil {
		t.Errorf("Append with wrong record size should fail")
	}
}

func TestFlushPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	f, err := Open(path, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := byte(1); i <= 3; i++ {
		if _, err := f.Append(rec(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := Open(path, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Size() != 3 {
		t.Fatalf("reopened size = %d, want 3", reopened.Size())
	}
	got, err := reopened.ReadAt(2)
	if err != nil || string(got) != string(rec(3)) {
		t.Errorf("reopened ReadAt(2) = %v, %v, want %v, nil", got, err, rec(3))
	}
}

func TestDiscardDropsUnflushedWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	f, err := Open(path, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Append(rec(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := f.Append(rec(2)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if f.Size() != 2 {
		t.Fatalf("size before discard = %d, want 2", f.Size())
	}

	f.Discard()
	if f.Size() != 1 {
		t.Errorf("size after discard = %d, want 1", f.Size())
	}
	if _, err := f.ReadAt(1); err != ErrOutOfRange {
		t.Errorf("position 1 should be gone after discard")
	}
}

func TestRewind(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "data.bin"), 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := byte(1); i <= 5; i++ {
		if _, err := f.Append(rec(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := f.Rewind(2); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if f.Size() != 2 {
		t.Fatalf("size after rewind = %d, want 2", f.Size())
	}
	if _, err := f.ReadAt(2); err != ErrOutOfRange {
		t.Errorf("position 2 should be gone after rewind")
	}

	if err := f.Rewind(5); err == nil {
		t.Errorf("rewinding forward should fail")
	}
}
