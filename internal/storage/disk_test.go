package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func newTestDisk(t *testing.T) *Disk {
	t.Helper()
	return NewDisk(t.TempDir(), "/api/files", 1<<20)
}

func TestUploadRoundTrip(t *testing.T) {
	d := newTestDisk(t)
	content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte("pixel"), 2000)...)

	url, storedName, err := d.Upload(context.Background(), "photo.png", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, "/api/files/"+storedName, url)
	assert.True(t, strings.HasSuffix(storedName, ".png"))

	// Compressed at rest.
	_, err = os.Stat(filepath.Join(d.Dir, storedName+".gz"))
	require.NoError(t, err)

	f, err := d.Open(storedName)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestUploadRejectsBlockedExtensions(t *testing.T) {
	d := newTestDisk(t)
	for _, name := range []string{"run.sh", "evil.exe", "script.js", "hack.php"} {
		_, _, err := d.Upload(context.Background(), name, strings.NewReader("#!/bin/sh"))
		assert.Error(t, err, name)
	}
}

func TestUploadRejectsMagicMismatch(t *testing.T) {
	d := newTestDisk(t)
	_, _, err := d.Upload(context.Background(), "fake.png", strings.NewReader("just text, no png header"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestUploadAllowsUnknownExtensions(t *testing.T) {
	d := newTestDisk(t)
	_, storedName, err := d.Upload(context.Background(), "notes.txt", strings.NewReader("plain text is fine"))
	require.NoError(t, err)

	f, err := d.Open(storedName)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "plain text is fine", string(got))
}

func TestOpenFallsBackToPlainFile(t *testing.T) {
	d := newTestDisk(t)
	require.NoError(t, os.WriteFile(filepath.Join(d.Dir, "legacy.txt"), []byte("uncompressed"), 0o644))

	f, err := d.Open("legacy.txt")
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "uncompressed", string(got))
}

func TestOpenStripsPathComponents(t *testing.T) {
	d := newTestDisk(t)
	_, err := d.Open("../../etc/passwd")
	assert.Error(t, err)
}

func TestContentTypeByExt(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeByExt(".png"))
	assert.Equal(t, "image/jpeg", ContentTypeByExt(".JPG"))
	assert.Equal(t, "application/pdf", ContentTypeByExt(".pdf"))
	assert.Equal(t, "", ContentTypeByExt(".bin"))
}
