// Package snapshot stages a downloaded fast-sync txhashset archive onto
// local disk so it can be opened as an ordinary pmmr.OutputPMMR /
// pmmr.RangeProofPMMR / pmmr.KernelMMR directory and handed to
// processor.TxHashSetProcessor for full validation. It does not speak
// any wire protocol itself and does not read zip files: both are out of
// scope, left behind the Extractor interface for the transport layer to
// implement.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"

	"github.com/mwgrin/node/core"
)

// Manifest describes one archive: the header it attests to, and the
// archive-relative paths of every file it carries. Paths are relative
// so Extractor implementations can lay the archive out however their
// transport wants to; Stage only needs to know where to find each part
// once extraction finishes.
type Manifest struct {
	Header      *core.BlockHeader
	KernelHash  string
	KernelData  string
	OutputHash  string
	OutputLeaf  string
	OutputPrune string
	OutputData  string
	RangeHash   string
	RangeLeaf   string
	RangePrune  string
	RangeData   string
}

// Extractor pulls the files a Manifest names out of an archive and
// writes them under destDir, preserving the manifest's relative paths.
// Concrete implementations (zip, tar, a remote peer's stream) live
// outside this package; archive I/O is out of scope here.
type Extractor interface {
	Extract(manifest Manifest, destDir string) error
}

// ErrMissingFile is returned by Stage when an extracted archive is
// missing one of the files its own manifest named.
var ErrMissingFile = errors.New("snapshot: archive did not produce a manifest-listed file")

// Stage extracts an archive via x into a freshly named staging
// directory under workDir, converts the output and range-proof leaf
// bitmaps from the archive's wire encoding into the runtime bitmap-file
// format pmmr.OpenOutputPMMR and pmmr.OpenRangeProofPMMR expect, and
// lays the result out as kernel/, output/, and rangeproof/
// subdirectories ready to open directly. The staging directory's name
// is a fresh UUID so concurrent or retried syncs never collide, the way
// massifs names tenant working paths.
//
// Stage returns the staging directory's path. The caller is responsible
// for removing it once it has been validated and either adopted or
// rejected.
func Stage(x Extractor, manifest Manifest, workDir string) (string, error) {
	stagingDir := filepath.Join(workDir, uuid.NewString())
	extractDir := filepath.Join(stagingDir, "extracted")

	if err := x.Extract(manifest, extractDir); err != nil {
		return "", fmt.Errorf("snapshot: extracting archive: %w", err)
	}

	kernelDir := filepath.Join(stagingDir, "kernel")
	outputDir := filepath.Join(stagingDir, "output")
	rangeDir := filepath.Join(stagingDir, "rangeproof")

	if err := copyFile(filepath.Join(extractDir, manifest.KernelHash), filepath.Join(kernelDir, "pmmr_hash.bin")); err != nil {
		return "", err
	}
	if err := copyFile(filepath.Join(extractDir, manifest.KernelData), filepath.Join(kernelDir, "pmmr_data.bin")); err != nil {
		return "", err
	}

	if err := copyFile(filepath.Join(extractDir, manifest.OutputHash), filepath.Join(outputDir, "pmmr_hash.bin")); err != nil {
		return "", err
	}
	if err := copyFile(filepath.Join(extractDir, manifest.OutputPrune), filepath.Join(outputDir, "pmmr_prun.bin")); err != nil {
		return "", err
	}
	if err := copyFile(filepath.Join(extractDir, manifest.OutputData), filepath.Join(outputDir, "pmmr_data.bin")); err != nil {
		return "", err
	}
	if err := ConvertLeafSet(filepath.Join(extractDir, manifest.OutputLeaf), filepath.Join(outputDir, "pmmr_leaf.bin")); err != nil {
		return "", fmt.Errorf("snapshot: converting output leaf set: %w", err)
	}

	if err := copyFile(filepath.Join(extractDir, manifest.RangeHash), filepath.Join(rangeDir, "pmmr_hash.bin")); err != nil {
		return "", err
	}
	if err := copyFile(filepath.Join(extractDir, manifest.RangePrune), filepath.Join(rangeDir, "pmmr_prun.bin")); err != nil {
		return "", err
	}
	if err := copyFile(filepath.Join(extractDir, manifest.RangeData), filepath.Join(rangeDir, "pmmr_data.bin")); err != nil {
		return "", err
	}
	if err := ConvertLeafSet(filepath.Join(extractDir, manifest.RangeLeaf), filepath.Join(rangeDir, "pmmr_leaf.bin")); err != nil {
		return "", fmt.Errorf("snapshot: converting range proof leaf set: %w", err)
	}

	return stagingDir, nil
}

// ConvertLeafSet reads a leaf bitmap in the raw roaring wire encoding an
// archive carries it in and rewrites it at destPath in the exact
// on-disk format leafset.Load expects: run-optimized and serialized the
// same way leafset.Flush would have produced it locally. A peer's
// encoder has no obligation to run-optimize before sending, so this is
// not a byte copy — it round-trips through roaring's own API to
// normalize the encoding before anything in this process ever loads it
// as a LeafSet.
func ConvertLeafSet(srcPath, destPath string) error {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingFile, srcPath)
		}
		return err
	}

	bitmap := roaring.NewBitmap()
	if _, err := bitmap.FromBuffer(raw); err != nil {
		return fmt.Errorf("snapshot: decoding leaf bitmap %s: %w", srcPath, err)
	}
	bitmap.RunOptimize()

	encoded, err := bitmap.ToBytes()
	if err != nil {
		return fmt.Errorf("snapshot: re-encoding leaf bitmap %s: %w", srcPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	tmp := destPath + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, destPath)
}

// copyFile copies an extracted archive member to its destination
// unchanged. Only the leaf bitmaps need format conversion; the hash,
// data, and prune-list files are already in the exact layout
// pmmrfile.OpenHashFile, pmmrfile.OpenDataFile, and prunelist.Load read.
func copyFile(srcPath, destPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingFile, srcPath)
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	tmp := destPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, destPath)
}

// Adopt replaces the txhashset directory at liveDir with the staged
// snapshot at stagingDir (as returned by Stage, before its
// "extracted" scratch subdirectory is dropped), moving the previous
// contents aside to backupDir rather than deleting them outright. The
// caller must have already fully validated the staged snapshot — via
// pmmr.Open*/txhashset.Open/txhashset.FullValidation against the
// manifest's header — before calling Adopt; this function only performs
// the atomic swap.
func Adopt(stagingDir, liveDir, backupDir string) error {
	if err := os.RemoveAll(filepath.Join(stagingDir, "extracted")); err != nil {
		return fmt.Errorf("snapshot: cleaning staged scratch files: %w", err)
	}

	if _, err := os.Stat(liveDir); err == nil {
		if err := os.RemoveAll(backupDir); err != nil {
			return fmt.Errorf("snapshot: clearing previous backup: %w", err)
		}
		if err := os.Rename(liveDir, backupDir); err != nil {
			return fmt.Errorf("snapshot: moving live txhashset aside: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(liveDir), 0o755); err != nil {
		return err
	}
	if err := os.Rename(stagingDir, liveDir); err != nil {
		return fmt.Errorf("snapshot: adopting staged txhashset: %w", err)
	}
	return nil
}
