package pmmr

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring"
)

func outputRecord(b byte) []byte {
	rec := make([]byte, OutputRecordSize)
	for i := range rec {
		rec[i] = b
	}
	return rec
}

func TestOutputPMMRAppendBuildsMMR(t *testing.T) {
	o, err := OpenOutputPMMR(t.TempDir())
	if err != nil {
		t.Fatalf("OpenOutputPMMR: %v", err)
	}

	pos0, err := o.Append(outputRecord(1))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if pos0 != 0 {
		t.Fatalf("first output at %d, want 0", pos0)
	}

	pos1, err := o.Append(outputRecord(2))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if pos1 != 1 {
		t.Fatalf("second output at %d, want 1", pos1)
	}

	if o.Size() != 3 {
		t.Fatalf("size = %d, want 3 (two leaves plus their parent)", o.Size())
	}

	root, err := o.Root(o.Size())
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	peak, err := o.GetHashAt(2)
	if err != nil {
		t.Fatalf("GetHashAt(2): %v", err)
	}
	if root != peak {
		t.Errorf("single-peak root should equal the parent's hash")
	}

	if !o.IsUnspent(0) || !o.IsUnspent(1) {
		t.Errorf("both outputs should start unspent")
	}
}

func TestOutputPMMRRemoveAndGetOutputAt(t *testing.T) {
	o, err := OpenOutputPMMR(t.TempDir())
	if err != nil {
		t.Fatalf("OpenOutputPMMR: %v", err)
	}
	if _, err := o.Append(outputRecord(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := o.Append(outputRecord(2)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := o.Remove(0); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if o.IsUnspent(0) {
		t.Errorf("output 0 should be spent")
	}

	if _, found, err := o.GetOutputAt(0); err != nil || found {
		t.Errorf("GetOutputAt(0) after spend: found=%v, err=%v, want false, nil", found, err)
	}

	data, found, err := o.GetOutputAt(1)
	if err != nil || !found {
		t.Fatalf("GetOutputAt(1): found=%v, err=%v", found, err)
	}
	if !bytes.Equal(data, outputRecord(2)) {
		t.Errorf("GetOutputAt(1) = %x, want the second output's record", data)
	}

	if err := o.Remove(0); err == nil {
		t.Errorf("removing an already-spent output should fail")
	}
	if err := o.Remove(2); err == nil {
		t.Errorf("removing a non-leaf position should fail")
	}
}

func TestOutputPMMRFlushAndDiscard(t *testing.T) {
	dir := t.TempDir()
	o, err := OpenOutputPMMR(dir)
	if err != nil {
		t.Fatalf("OpenOutputPMMR: %v", err)
	}
	if _, err := o.Append(outputRecord(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := o.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := o.Append(outputRecord(2)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if o.Size() != 3 {
		t.Fatalf("size before discard = %d, want 3 (two leaves plus their parent)", o.Size())
	}

	o.Discard()
	if o.Size() != 1 {
		t.Errorf("size after discard = %d, want 1", o.Size())
	}
	if !o.IsUnspent(0) {
		t.Errorf("output 0 should still be unspent after discard")
	}

	reopened, err := OpenOutputPMMR(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Size() != 1 {
		t.Errorf("reopened size = %d, want 1", reopened.Size())
	}
}

func TestOutputPMMRRewindRestoresSpentLeaf(t *testing.T) {
	o, err := OpenOutputPMMR(t.TempDir())
	if err != nil {
		t.Fatalf("OpenOutputPMMR: %v", err)
	}
	if _, err := o.Append(outputRecord(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := o.Append(outputRecord(2)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := o.Remove(0); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	leavesToAdd := roaring.New()
	leavesToAdd.Add(0)
	if err := o.Rewind(1, leavesToAdd); err != nil {
		t.Fatalf("Rewind: %v", err)
	}

	if o.Size() != 1 {
		t.Errorf("size after rewind = %d, want 1", o.Size())
	}
	if !o.IsUnspent(0) {
		t.Errorf("output 0 should be restored unspent after the rewind")
	}
}

func TestOutputPMMRDetermineNodesToRemove(t *testing.T) {
	o, err := OpenOutputPMMR(t.TempDir())
	if err != nil {
		t.Fatalf("OpenOutputPMMR: %v", err)
	}
	for i := byte(0); i < 4; i++ {
		if _, err := o.Append(outputRecord(i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// 4 outputs: leaves at 0,1,3,4; parents at 2,5; peak at 6.
	if err := o.Remove(0); err != nil {
		t.Fatalf("Remove(0): %v", err)
	}
	if err := o.Remove(1); err != nil {
		t.Fatalf("Remove(1): %v", err)
	}

	leaves := o.DetermineLeavesToRemove(o.Size(), roaring.New())
	if !leaves.Contains(0) || !leaves.Contains(1) {
		t.Fatalf("DetermineLeavesToRemove = %v, want {0,1}", leaves.ToArray())
	}

	nodes := o.DetermineNodesToRemove(leaves)
	for _, want := range []uint32{0, 1, 2} {
		if !nodes.Contains(want) {
			t.Errorf("DetermineNodesToRemove missing position %d: %v", want, nodes.ToArray())
		}
	}
	if nodes.Contains(3) || nodes.Contains(4) || nodes.Contains(5) {
		t.Errorf("DetermineNodesToRemove should not touch the still-unspent subtree: %v", nodes.ToArray())
	}
}

func TestOutputPMMRWrongRecordSize(t *testing.T) {
	o, err := OpenOutputPMMR(filepath.Join(t.TempDir(), "nested"))
	if err != nil {
		t.Fatalf("OpenOutputPMMR: %v", err)
	}
	if _, err := o.Append([]byte{1, 2, 3}); err == nil {
		t.Errorf("Append with wrong record size should fail")
	}
}
