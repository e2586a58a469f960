// Package snapshot pulls a flash region's contents off a device as a
// compressed stream, for offline inspection of a field unit that has no
// shell of its own, and restores one back onto a (normally blank) device.
package snapshot

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/tidelog/tidelog/internal/flashdev"
)

// readChunk is the size Export reads and writes in, independent of the
// device's sector size, so a snapshot of a large region doesn't require
// buffering it whole in memory.
const readChunk = 64 * 1024

// Export streams regionSectors sectors starting at sector 0, compressed
// with zstd, to w. It does not erase or otherwise disturb dev.
func Export(ctx context.Context, dev flashdev.Device, regionSectors uint32, w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("snapshot: open compressor: %w", err)
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
			return fmt.Errorf("snapshot: read at %d: %w", off, err)
		}
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return fmt.Errorf("snapshot: write compressed chunk: %w", err)
		}
		off += int64(n)
	}
	return zw.Close()
}

// Import decompresses r and writes it onto dev starting at sector 0,
// erasing each sector immediately before the write that covers it so a
// partially-imported device is left with clean sector boundaries even if
// interrupted. dev's alignment rules (see flashdev.Device.Write) apply to
// every chunk; callers importing onto real SPI NOR should keep r's
// underlying stream's chunking sector-aligned, which zstd's frame
// boundaries do not otherwise guarantee, so Import buffers up to one
// sector before issuing a Write.
func Import(ctx context.Context, dev flashdev.Device, r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("snapshot: open decompressor: %w", err)
	}
	defer zr.Close()

	sectorSize := dev.SectorSize()
	buf := make([]byte, sectorSize)
	var sector uint32
	for {
		n, err := io.ReadFull(zr, buf)
		if n > 0 {
			if err := dev.EraseSector(ctx, sector); err != nil {
				return fmt.Errorf("snapshot: erase sector %d: %w", sector, err)
			}
			chunk := buf[:n]
			if pad := len(chunk) % 4; pad != 0 {
				for i := 0; i < 4-pad; i++ {
					chunk = append(chunk, 0xff)
				}
			}
			if werr := dev.Write(ctx, sector*sectorSize, chunk); werr != nil {
				return fmt.Errorf("snapshot: write sector %d: %w", sector, werr)
			}
			sector++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("snapshot: decompress: %w", err)
		}
	}
}
