package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"github.com/tidelog/tidelog/internal/flashdev"
)

// DefaultMaxSegmentBytes caps a single snapshot segment file's compressed
// size, so a large region dump splits into several manageable files
// instead of one unbounded one.
const DefaultMaxSegmentBytes = 16 * 1024 * 1024

var segmentFileNamePattern = regexp.MustCompile(`^snapshot-(\d{4})\.zst$`)

// segmentWriter rotates to a new numbered file in dir whenever the active
// one would exceed maxBytes.
type segmentWriter struct {
	dir      string
	maxBytes int64
	id       int
	active   *os.File
	written  int64
	names    []string
}

func newSegmentWriter(dir string, maxBytes int64) (*segmentWriter, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSegmentBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create %s: %w", dir, err)
	}
	sw := &segmentWriter{dir: dir, maxBytes: maxBytes}
	if err := sw.rotate(); err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *segmentWriter) path(id int) string {
	return filepath.Join(sw.dir, fmt.Sprintf("snapshot-%04d.zst", id))
}

func (sw *segmentWriter) rotate() error {
	if sw.active != nil {
		if err := sw.active.Close(); err != nil {
			return fmt.Errorf("snapshot: close segment: %w", err)
		}
	}
	sw.id++
	f, err := os.Create(sw.path(sw.id))
	if err != nil {
		return fmt.Errorf("snapshot: create segment: %w", err)
	}
	sw.active = f
	sw.written = 0
	sw.names = append(sw.names, f.Name())
	return nil
}

// Write implements io.Writer, rotating to a fresh segment before a write
// that would cross maxBytes. A single write is never split across two
// segments, and a write larger than maxBytes goes whole into its own
// segment. The segments are consecutive pieces of one zstd stream, not
// independently decodable files.
func (sw *segmentWriter) Write(p []byte) (int, error) {
	if sw.written > 0 && sw.written+int64(len(p)) > sw.maxBytes {
		if err := sw.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := sw.active.Write(p)
	sw.written += int64(n)
	return n, err
}

func (sw *segmentWriter) Close() error {
	if sw.active == nil {
		return nil
	}
	return sw.active.Close()
}

// ExportSegmented streams regionSectors sectors of dev into one or more
// zstd-compressed snapshot-NNNN.zst files under dir, starting a new file
// before any compressor write that would take the current one past
// maxSegmentBytes (DefaultMaxSegmentBytes if zero), and returns the
// written file paths in order. A file can exceed the cap when a single
// compressor write is larger than it.
func ExportSegmented(ctx context.Context, dev flashdev.Device, regionSectors uint32, dir string, maxSegmentBytes int64) ([]string, error) {
	sw, err := newSegmentWriter(dir, maxSegmentBytes)
	if err != nil {
		return nil, err
	}

	zw, err := zstd.NewWriter(sw)
	if err != nil {
		sw.Close()
		return nil, fmt.Errorf("snapshot: open compressor: %w", err)
	}

	total := int64(regionSectors) * int64(dev.SectorSize())
	var off int64
	for off < total {
		n := readChunk
		if remaining := total - off; remaining < int64(n) {
			n = int(remaining)
		}
		data, err := dev.Read(ctx, uint32(off), n)
		if err != nil {
			zw.Close()
			sw.Close()
			return nil, fmt.Errorf("snapshot: read at %d: %w", off, err)
		}
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			sw.Close()
			return nil, fmt.Errorf("snapshot: write compressed chunk: %w", err)
		}
		off += int64(n)
	}
	if err := zw.Close(); err != nil {
		sw.Close()
		return nil, fmt.Errorf("snapshot: flush compressor: %w", err)
	}
	if err := sw.Close(); err != nil {
		return nil, err
	}
	return sw.names, nil
}

// ImportSegmented reads every snapshot-NNNN.zst file in dir, in segment
// order, concatenating them into the single zstd stream Import expects.
func ImportSegmented(ctx context.Context, dev flashdev.Device, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("snapshot: read %s: %w", dir, err)
	}

	type seg struct {
		id   int
		name string
	}
	var segs []seg
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := segmentFileNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		segs = append(segs, seg{id: id, name: e.Name()})
	}
	if len(segs) == 0 {
		return fmt.Errorf("snapshot: no segment files found in %s", dir)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })

	readers := make([]io.Reader, 0, len(segs))
	for _, s := range segs {
		f, err := os.Open(filepath.Join(dir, s.name))
		if err != nil {
			return fmt.Errorf("snapshot: open %s: %w", s.name, err)
		}
		defer f.Close()
		readers = append(readers, f)
	}
	return Import(ctx, dev, io.MultiReader(readers...))
}
