package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Executable and script extensions are rejected outright; everything else is
// allowed.
var blockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

// Disk stores blobs gzip-compressed on the local filesystem.
type Disk struct {
	Dir       string
	MaxSize   int64
	URLPrefix string
}

func NewDisk(dir, urlPrefix string, maxSize int64) *Disk {
	return &Disk{Dir: dir, MaxSize: maxSize, URLPrefix: strings.TrimSuffix(urlPrefix, "/")}
}

func (d *Disk) Upload(ctx context.Context, originalName string, r io.Reader) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if blockedExt[ext] {
		return "", "", fmt.Errorf("storage: file type %q not allowed", ext)
	}

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(r, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return "", "", fmt.Errorf("storage: file content does not match %q", ext)
	}

	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", "", fmt.Errorf("storage: mkdir: %w", err)
	}
	storedName := uuid.NewString() + ext
	dstPath := filepath.Join(d.Dir, storedName+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", "", fmt.Errorf("storage: create: %w", err)
	}
	gz := gzip.NewWriter(dst)

	fail := func(err error) (string, string, error) {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return "", "", err
	}
	if _, err := gz.Write(head); err != nil {
		return fail(fmt.Errorf("storage: write: %w", err))
	}
	if err := copyWithContext(ctx, gz, io.LimitReader(r, d.MaxSize)); err != nil {
		return fail(err)
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", "", fmt.Errorf("storage: flush: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", "", fmt.Errorf("storage: close: %w", err)
	}
	return d.PublicURL(storedName), storedName, nil
}

// Open prefers the gzip blob and falls back to a plain file for blobs written
// before compression at rest.
func (d *Disk) Open(storedName string) (io.ReadCloser, error) {
	storedName = filepath.Base(storedName)
	if f, err := os.Open(filepath.Join(d.Dir, storedName+".gz")); err == nil {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: gunzip: %w", err)
		}
		return &gzipBlob{gz: gz, f: f}, nil
	}
	f, err := os.Open(filepath.Join(d.Dir, storedName))
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	return f, nil
}

func (d *Disk) PublicURL(storedName string) string {
	return d.URLPrefix + "/" + storedName
}

type gzipBlob struct {
	gz *gzip.Reader
	f  *os.File
}

func (b *gzipBlob) Read(p []byte) (int, error) { return b.gz.Read(p) }

func (b *gzipBlob) Close() error {
	gzErr := b.gz.Close()
	if err := b.f.Close(); err != nil {
		return err
	}
	return gzErr
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	}
	return true
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("storage: upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("storage: write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("storage: read: %w", readErr)
		}
	}
}

// ContentTypeByExt maps known extensions for serving; empty means let the
// client sniff.
func ContentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	}
	return ""
}
