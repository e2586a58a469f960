package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidelog/tidelog/internal/flashdev"
)

func filledDevice(t *testing.T, sectors int) *flashdev.MemDevice {
	t.Helper()
	dev := flashdev.NewMemDevice(4096, uint32(sectors))
	ctx := context.Background()
	for s := 0; s < sectors; s++ {
		buf := bytes.Repeat([]byte{byte(s + 1)}, 4096)
		require.NoError(t, dev.EraseSector(ctx, uint32(s)))
		require.NoError(t, dev.Write(ctx, uint32(s)*4096, buf))
	}
	return dev
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := filledDevice(t, 4)

	var buf bytes.Buffer
	require.NoError(t, Export(ctx, src, 4, &buf))

	dst := flashdev.NewMemDevice(4096, 4)
	require.NoError(t, Import(ctx, dst, &buf))

	for s := 0; s < 4; s++ {
		want, err := src.Read(ctx, uint32(s)*4096, 4096)
		require.NoError(t, err)
		got, err := dst.Read(ctx, uint32(s)*4096, 4096)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestExportSegmentedSplitsAcrossFiles(t *testing.T) {
	ctx := context.Background()
	src := filledDevice(t, 8)
	dir := t.TempDir()

	names, err := ExportSegmented(ctx, src, 8, dir, 2048)
	require.NoError(t, err)
	require.Greater(t, len(names), 1, "expected more than one segment at a tight byte cap")

	for _, n := range names {
		_, err := os.Stat(n)
		require.NoError(t, err)
	}
}

func TestImportSegmentedReconstructsStream(t *testing.T) {
	ctx := context.Background()
	src := filledDevice(t, 6)
	dir := t.TempDir()

	_, err := ExportSegmented(ctx, src, 6, dir, 4096)
	require.NoError(t, err)

	dst := flashdev.NewMemDevice(4096, 6)
	require.NoError(t, ImportSegmented(ctx, dst, dir))

	for s := 0; s < 6; s++ {
		want, err := src.Read(ctx, uint32(s)*4096, 4096)
		require.NoError(t, err)
		got, err := dst.Read(ctx, uint32(s)*4096, 4096)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestImportSegmentedMissingDirErrors(t *testing.T) {
	ctx := context.Background()
	dst := flashdev.NewMemDevice(4096, 1)
	err := ImportSegmented(ctx, dst, filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
