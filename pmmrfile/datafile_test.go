package pmmrfile

import (
	"encoding/binary"
	"path/filepath"
	"testing"
)

func marshalUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func unmarshalUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func TestDataFileTypedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heights.bin")
	df, err := OpenDataFile[uint64](path, 8, marshalUint64, unmarshalUint64)
	if err != nil {
		t.Fatalf("OpenDataFile: %v", err)
	}

	for _, v := range []uint64{10, 20, 30} {
		if _, err := df.AddData(v); err != nil {
			t.Fatalf("AddData(%d): %v", v, err)
		}
	}

	value, found, err := df.GetDataAt(1)
	if err != nil || !found || value != 20 {
		t.Errorf("GetDataAt(1) = %d, %v, %v, want 20, true, nil", value, found, err)
	}

	_, found, err = df.GetDataAt(10)
	if err != nil {
		t.Fatalf("GetDataAt(10): %v", err)
	}
	if found {
		t.Errorf("GetDataAt(10) should report not found, file only has 3 records")
	}
}

func TestDataFilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heights.bin")
	df, err := OpenDataFile[uint64](path, 8, marshalUint64, unmarshalUint64)
	if err != nil {
		t.Fatalf("OpenDataFile: %v", err)
	}
	if _, err := df.AddData(42); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if err := df.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reopened, err := OpenDataFile[uint64](path, 8, marshalUint64, unmarshalUint64)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	value, found, err := reopened.GetDataAt(0)
	if err != nil || !found || value != 42 {
		t.Errorf("reopened GetDataAt(0) = %d, %v, %v, want 42, true, nil", value, found, err)
	}
}
