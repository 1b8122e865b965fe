package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"testing"
	"testing/fstest"
)

func sha256hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// makeTarGz builds an in-memory docs bundle archive. Parent directories
// are implicit, the way the publisher pipeline emits them.
func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for name, content := range entries {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0640,
			Size: int64(len(content)),
		}); err != nil {
			t.Fatalf("tar header %q: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar content %q: %v", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// makeTarGzWithType builds an archive holding one entry of the given tar
// type flag, for the special-entry rejection tests.
func makeTarGzWithType(t *testing.T, name string, typeflag byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	hdr := &tar.Header{
		Name:     name,
		Mode:     0640,
		Typeflag: typeflag,
	}
	if typeflag == tar.TypeSymlink {
		hdr.Linkname = "target"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	tw.Close()
	gw.Close()
	return buf.Bytes()
}

// rawTarGz gives a test direct control over the tar writer.
func rawTarGz(t *testing.T, write func(tw *tar.Writer)) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	write(tw)
	tw.Close()
	gw.Close()
	return buf.Bytes()
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "bundle-*")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

func readFileFromFS(t *testing.T, fsys fs.FS, name string) string {
	t.Helper()
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		t.Fatalf("read %q: %v", name, err)
	}
	return string(data)
}

func TestReadWithHash(t *testing.T) {
	t.Run("data and digest", func(t *testing.T) {
		input := []byte("<html>HTTP reference</html>")
		data, hash, err := readWithHash(bytes.NewReader(input), maxBundleSize)
		if err != nil {
			t.Fatalf("readWithHash: %v", err)
		}
		if !bytes.Equal(data, input) {
			t.Fatalf("data = %q, want %q", data, input)
		}
		if want := sha256hex(input); hash != want {
			t.Fatalf("hash = %q, want %q", hash, want)
		}
	})

	t.Run("over the limit", func(t *testing.T) {
		_, _, err := readWithHash(bytes.NewReader(bytes.Repeat([]byte("x"), 100)), 50)
		if err == nil {
			t.Fatal("oversized read succeeded")
		}
		if !strings.Contains(err.Error(), "max size") {
			t.Fatalf("error = %v, want a max size mention", err)
		}
	})

	t.Run("exactly at the limit", func(t *testing.T) {
		got, _, err := readWithHash(bytes.NewReader(bytes.Repeat([]byte("x"), 50)), 50)
		if err != nil {
			t.Fatalf("read at the boundary: %v", err)
		}
		if len(got) != 50 {
			t.Fatalf("len = %d, want 50", len(got))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		data, hash, err := readWithHash(bytes.NewReader(nil), maxBundleSize)
		if err != nil {
			t.Fatalf("readWithHash: %v", err)
		}
		if len(data) != 0 {
			t.Fatalf("data = %d bytes, want 0", len(data))
		}
		if want := sha256hex(nil); hash != want {
			t.Fatalf("hash = %q, want the empty digest", hash)
		}
	})
}

func TestExtractTarGzToMem(t *testing.T) {
	t.Run("doc pages land at their paths", func(t *testing.T) {
		entries := map[string]string{
			"en-US/docs/Web/HTTP/index.html": "<html>HTTP</html>",
			"fr/docs/Web/CSS/index.html":     "<html>CSS</html>",
			"static/css/main.css":            "body { margin: 0 }",
		}
		fsys, err := extractTarGzToMem(makeTarGz(t, entries))
		if err != nil {
			t.Fatalf("extractTarGzToMem: %v", err)
		}
		for name, want := range entries {
			if got := readFileFromFS(t, fsys, name); got != want {
				t.Fatalf("%q = %q, want %q", name, got, want)
			}
		}
	})

	t.Run("directory entries are implicit", func(t *testing.T) {
		archive := rawTarGz(t, func(tw *tar.Writer) {
			tw.WriteHeader(&tar.Header{Name: "en-US/", Mode: 0750, Typeflag: tar.TypeDir})
			body := "<html>index</html>"
			tw.WriteHeader(&tar.Header{Name: "en-US/index.html", Mode: 0640, Size: int64(len(body))})
			tw.Write([]byte(body))
		})

		fsys, err := extractTarGzToMem(archive)
		if err != nil {
			t.Fatalf("extractTarGzToMem: %v", err)
		}
		if got := readFileFromFS(t, fsys, "en-US/index.html"); got != "<html>index</html>" {
			t.Fatalf("content = %q", got)
		}
	})

	t.Run("dot entry skipped", func(t *testing.T) {
		archive := rawTarGz(t, func(tw *tar.Writer) {
			tw.WriteHeader(&tar.Header{Name: "./", Mode: 0750, Typeflag: tar.TypeDir})
			body := "robots"
			tw.WriteHeader(&tar.Header{Name: "robots.txt", Mode: 0640, Size: int64(len(body))})
			tw.Write([]byte(body))
		})

		fsys, err := extractTarGzToMem(archive)
		if err != nil {
			t.Fatalf("extractTarGzToMem: %v", err)
		}
		if got := readFileFromFS(t, fsys, "robots.txt"); got != "robots" {
			t.Fatalf("content = %q", got)
		}
	})

	t.Run("file mode preserved", func(t *testing.T) {
		archive := rawTarGz(t, func(tw *tar.Writer) {
			body := "#!/bin/sh"
			tw.WriteHeader(&tar.Header{Name: "hook.sh", Mode: 0755, Size: int64(len(body))})
			tw.Write([]byte(body))
		})

		fsys, err := extractTarGzToMem(archive)
		if err != nil {
			t.Fatalf("extractTarGzToMem: %v", err)
		}
		mfs, ok := fsys.(fstest.MapFS)
		if !ok {
			t.Fatalf("fs type = %T, want fstest.MapFS", fsys)
		}
		entry, exists := mfs["hook.sh"]
		if !exists {
			t.Fatal("hook.sh missing")
		}
		if entry.Mode&0755 != 0755 {
			t.Fatalf("mode = %o, want 0755", entry.Mode)
		}
	})

	t.Run("empty archive gives an empty fs", func(t *testing.T) {
		fsys, err := extractTarGzToMem(rawTarGz(t, func(*tar.Writer) {}))
		if err != nil {
			t.Fatalf("extractTarGzToMem: %v", err)
		}
		mfs, ok := fsys.(fstest.MapFS)
		if !ok {
			t.Fatalf("fs type = %T, want fstest.MapFS", fsys)
		}
		if len(mfs) != 0 {
			t.Fatalf("entries = %d, want 0", len(mfs))
		}
	})

	t.Run("not gzip", func(t *testing.T) {
		if _, err := extractTarGzToMem([]byte("plain bytes, no gzip magic")); err == nil {
			t.Fatal("invalid gzip accepted")
		}
	})
}

func TestExtractTarGzToMem_RejectsSpecialEntries(t *testing.T) {
	cases := []struct {
		name     string
		typeflag byte
	}{
		{"symlink", tar.TypeSymlink},
		{"hard link", tar.TypeLink},
		{"char device", tar.TypeChar},
		{"block device", tar.TypeBlock},
		{"fifo", tar.TypeFifo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := extractTarGzToMem(makeTarGzWithType(t, "entry", tc.typeflag))
			if err == nil {
				t.Fatalf("%s entry accepted", tc.name)
			}
			if !strings.Contains(err.Error(), "unsupported file type") {
				t.Fatalf("error = %v, want unsupported file type", err)
			}
		})
	}
}

func TestExtractTarGzToMem_RejectsEscapingPaths(t *testing.T) {
	t.Run("traversal", func(t *testing.T) {
		archive := rawTarGz(t, func(tw *tar.Writer) {
			tw.WriteHeader(&tar.Header{Name: "../../../etc/passwd", Mode: 0640, Size: 4})
			tw.Write([]byte("evil"))
		})
		_, err := extractTarGzToMem(archive)
		if err == nil {
			t.Fatal("traversal path accepted")
		}
		if !strings.Contains(err.Error(), "path traversal") {
			t.Fatalf("error = %v, want path traversal", err)
		}
	})

	t.Run("absolute", func(t *testing.T) {
		archive := rawTarGz(t, func(tw *tar.Writer) {
			tw.WriteHeader(&tar.Header{Name: "/etc/passwd", Mode: 0640, Size: 4})
			tw.Write([]byte("evil"))
		})
		_, err := extractTarGzToMem(archive)
		if err == nil {
			t.Fatal("absolute path accepted")
		}
		if !strings.Contains(err.Error(), "absolute path") {
			t.Fatalf("error = %v, want absolute path", err)
		}
	})
}

func TestExtractTarGzToMem_SingleFileCeiling(t *testing.T) {
	archive := rawTarGz(t, func(tw *tar.Writer) {
		tw.WriteHeader(&tar.Header{Name: "bomb.bin", Mode: 0640, Size: maxSingleFile + 1})
		zeros := make([]byte, 32*1024)
		remaining := maxSingleFile + 1
		for remaining > 0 {
			chunk := int64(len(zeros))
			if chunk > remaining {
				chunk = remaining
			}
			tw.Write(zeros[:chunk])
			remaining -= chunk
		}
	})

	_, err := extractTarGzToMem(archive)
	if err == nil {
		t.Fatal("oversized file accepted")
	}
	if !strings.Contains(err.Error(), "exceeds max size") {
		t.Fatalf("error = %v, want exceeds max size", err)
	}
}

func TestExtractTarGzToMem_AggregateCeiling(t *testing.T) {
	// every file is individually fine; together they pass the extract cap
	archive := rawTarGz(t, func(tw *tar.Writer) {
		fileSize := int64(1 * 1024 * 1024)
		content := bytes.Repeat([]byte("x"), int(fileSize))
		for i := int64(0); i < maxTotalExtract/fileSize+1; i++ {
			tw.WriteHeader(&tar.Header{
				Name: fmt.Sprintf("en-US/docs/page_%d.html", i),
				Mode: 0640,
				Size: fileSize,
			})
			tw.Write(content)
		}
	})

	_, err := extractTarGzToMem(archive)
	if err == nil {
		t.Fatal("oversized bundle accepted")
	}
	if !strings.Contains(err.Error(), "total extracted size exceeds limit") {
		t.Fatalf("error = %v, want the aggregate limit", err)
	}
}

func FuzzExtractTarGzToMem(f *testing.F) {
	// plain bundle
	f.Add(fuzzSeedArchive(func(tw *tar.Writer) {
		for name, body := range map[string]string{
			"en-US/docs/Web/index.html": "<html>docs</html>",
			"static/css/main.css":       "body { margin: 0 }",
			"fr/docs/Web/index.html":    "<html>fr</html>",
		} {
			tw.WriteHeader(&tar.Header{Name: name, Mode: 0640, Size: int64(len(body))})
			tw.Write([]byte(body))
		}
	}))
	// explicit directory entry
	f.Add(fuzzSeedArchive(func(tw *tar.Writer) {
		tw.WriteHeader(&tar.Header{Name: "en-US/", Mode: 0750, Typeflag: tar.TypeDir})
		body := "<html>index</html>"
		tw.WriteHeader(&tar.Header{Name: "en-US/index.html", Mode: 0640, Size: int64(len(body))})
		tw.Write([]byte(body))
	}))
	// GNU volume label followed by a file
	f.Add(fuzzSeedArchive(func(tw *tar.Writer) {
		tw.WriteHeader(&tar.Header{Name: "volume-label", Typeflag: 'V'})
		body := "after label"
		tw.WriteHeader(&tar.Header{Name: "file.txt", Mode: 0640, Size: int64(len(body))})
		tw.Write([]byte(body))
	}))

	f.Fuzz(func(t *testing.T, data []byte) {
		// errors are fine, panics and hangs are not
		_, _ = extractTarGzToMem(data)
	})
}

func fuzzSeedArchive(write func(tw *tar.Writer)) []byte {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	write(tw)
	tw.Close()
	gw.Close()
	return buf.Bytes()
}

func TestComputeFileHash(t *testing.T) {
	t.Run("known content", func(t *testing.T) {
		content := []byte("bundle bytes on disk")
		got, err := ComputeFileHash(writeTempFile(t, content))
		if err != nil {
			t.Fatalf("ComputeFileHash: %v", err)
		}
		if want := sha256hex(content); got != want {
			t.Fatalf("hash = %q, want %q", got, want)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		got, err := ComputeFileHash(writeTempFile(t, nil))
		if err != nil {
			t.Fatalf("ComputeFileHash: %v", err)
		}
		if want := sha256hex(nil); got != want {
			t.Fatalf("hash = %q, want the empty digest", got)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ComputeFileHash("/nonexistent/bundle.tar.gz"); err == nil {
			t.Fatal("missing file hashed")
		}
	})
}

func TestValidateBundle(t *testing.T) {
	content := []byte("published bundle bytes")

	t.Run("digest matches", func(t *testing.T) {
		if err := ValidateBundle(writeTempFile(t, content), sha256hex(content)); err != nil {
			t.Fatalf("ValidateBundle: %v", err)
		}
	})

	t.Run("digest mismatch", func(t *testing.T) {
		err := ValidateBundle(writeTempFile(t, content),
			"0000000000000000000000000000000000000000000000000000000000000000")
		if err == nil {
			t.Fatal("mismatched digest accepted")
		}
		if !strings.Contains(err.Error(), "hash mismatch") {
			t.Fatalf("error = %v, want hash mismatch", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if err := ValidateBundle("/nonexistent/bundle.tar.gz", "abc123"); err == nil {
			t.Fatal("missing file validated")
		}
	})
}
