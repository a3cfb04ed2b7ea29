package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func TestDownloadSingleStreamVerifiesChecksum(t *testing.T) {
	body := []byte("hello, velo")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	err := Download(context.Background(), srv.URL, dest, Options{ExpectedSHA256: sha256Hex(body)})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDownloadChecksumMismatchDeletesDestination(t *testing.T) {
	body := []byte("hello, velo")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	err := Download(context.Background(), srv.URL, dest, Options{ExpectedSHA256: "0000000000000000000000000000000000000000000000000000000000000"})
	require.Error(t, err)
	var mismatch *ChecksumMismatch
	assert.ErrorAs(t, err, &mismatch)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "destination must be deleted on checksum mismatch")
}

func TestDownloadSegmentedReassemblesInOrder(t *testing.T) {
	body := make([]byte, 5*1024*1024+37)
	for i := range body {
		body[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			return
		}
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Write(body)
			return
		}
		var lo, hi int
		_, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &lo, &hi)
		require.NoError(t, err)
		if hi >= len(body) {
			hi = len(body) - 1
		}
		w.Header().Set("Content-Range", "bytes "+strconv.Itoa(lo)+"-"+strconv.Itoa(hi)+"/"+strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[lo : hi+1])
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	err := Download(context.Background(), srv.URL, dest, Options{
		ExpectedSHA256: sha256Hex(body),
		ChunkSize:      1 << 20,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}
