package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_RoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"empty":      {},
		"small":      []byte(`[{"category":"MESH_ROLE"}]`),
		"repetitive": bytes.Repeat([]byte("network_conditions "), 4096),
	}

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		f, err := NewFramer(c)
		require.NoError(t, err)

		for name, raw := range payloads {
			t.Run(c.String()+"/"+name, func(t *testing.T) {
				framed, err := f.Pack(raw)
				require.NoError(t, err)
				assert.True(t, bytes.HasPrefix(framed, MagicHeader))

				out, err := f.Unpack(framed)
				require.NoError(t, err)
				assert.Equal(t, len(raw), len(out))
				assert.True(t, bytes.Equal(raw, out))
			})
		}
	}
}

func TestFramer_Compresses(t *testing.T) {
	raw := bytes.Repeat([]byte("battery_impacts "), 8192)
	for _, c := range []Compression{CompressionZstd, CompressionLZ4} {
		f, err := NewFramer(c)
		require.NoError(t, err)
		framed, err := f.Pack(raw)
		require.NoError(t, err)
		assert.Less(t, len(framed), len(raw)/4, c.String())
	}
}

func TestFramer_Deterministic(t *testing.T) {
	raw := bytes.Repeat([]byte("mesh_events "), 1000)
	f, err := NewFramer(CompressionZstd)
	require.NoError(t, err)

	first, err := f.Pack(raw)
	require.NoError(t, err)
	second, err := f.Pack(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFramer_CrossCompression(t *testing.T) {
	lz, err := NewFramer(CompressionLZ4)
	require.NoError(t, err)
	zs, err := NewFramer(CompressionZstd)
	require.NoError(t, err)

	raw := bytes.Repeat([]byte("x"), 500)
	framed, err := lz.Pack(raw)
	require.NoError(t, err)

	out, err := zs.Unpack(framed)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestFramer_InvalidHeader(t *testing.T) {
	f, err := NewFramer(CompressionZstd)
	require.NoError(t, err)

	_, err = f.Unpack([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidHeader)

	_, err = f.Unpack([]byte("NOTMAGIC\x00\x00\x00\x00\x00"))
	assert.ErrorIs(t, err, ErrInvalidHeader)

	framed, err := f.Pack([]byte("hello"))
	require.NoError(t, err)
	framed[8] = 0x7f
	_, err = f.Unpack(framed)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestFramer_LengthMismatch(t *testing.T) {
	f, err := NewFramer(CompressionNone)
	require.NoError(t, err)

	framed, err := f.Pack([]byte("hello"))
	require.NoError(t, err)
	framed[9] = 99
	_, err = f.Unpack(framed)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestParseCompression(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Compression
	}{
		{"", CompressionZstd},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"none", CompressionNone},
	} {
		got, err := ParseCompression(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("mesh_events.log"))
	for _, bad := range []string{"", ".", "..", "../escape", `a\b`, "dir/file"} {
		assert.Error(t, ValidateName(bad), bad)
	}
}

// blobStoreContract runs the behaviour every BlobStore must share.
func blobStoreContract(t *testing.T, s BlobStore) {
	ctx := context.Background()

	_, err := s.Read(ctx, "missing.log")
	assert.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, s.Write(ctx, "b.log", []byte("first")))
	require.NoError(t, s.Write(ctx, "a.log", []byte("alpha")))
	require.NoError(t, s.Write(ctx, "b.log", []byte("second")))

	data, err := s.Read(ctx, "b.log")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.log", "b.log"}, names)

	require.NoError(t, s.Delete(ctx, "a.log"))
	require.NoError(t, s.Delete(ctx, "a.log"))
	_, err = s.Read(ctx, "a.log")
	assert.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, s.Write(ctx, "empty.log", nil))
	data, err = s.Read(ctx, "empty.log")
	require.NoError(t, err)
	assert.Empty(t, data)

	assert.Error(t, s.Write(ctx, "../x", []byte("nope")))
}

func TestMemStore(t *testing.T) {
	blobStoreContract(t, NewMemStore())
}

func TestMemStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	buf := []byte("abc")
	require.NoError(t, s.Write(ctx, "x.log", buf))
	buf[0] = 'z'

	data, err := s.Read(ctx, "x.log")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestDirStore(t *testing.T) {
	s, err := NewDirStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	blobStoreContract(t, s)
}

func TestDirStore_Permissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "private")
	s, err := NewDirStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), "mesh_events.log", []byte("secret")))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	info, err = os.Stat(s.Path("mesh_events.log"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestDirStore_ListSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "half.log.tmp"), []byte("x"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0700))
	require.NoError(t, s.Write(context.Background(), "whole.log", []byte("y")))

	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"whole.log"}, names)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	blobStoreContract(t, s)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telemetry.db")

	s, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	payload := []byte(strings.Repeat("z", 10000))
	require.NoError(t, s.Write(ctx, "diagnostic_logs.log", payload))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	data, err := s.Read(ctx, "diagnostic_logs.log")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}
