package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"testing/fstest"

	"github.com/arothfield/docsite-web/internal/cryptoutil"
	"github.com/arothfield/docsite-web/internal/xerrors"
)

// Bundle size ceilings. A doc bundle is a few thousand rendered pages
// plus assets; anything past these limits is corrupt or hostile.
const (
	maxBundleSize   int64 = 50 * 1024 * 1024  // compressed archive from s3
	maxSingleFile   int64 = 10 * 1024 * 1024  // one page or asset
	maxTotalExtract int64 = 100 * 1024 * 1024 // everything unpacked
)

// readWithHash consumes r up to maxSize bytes, hashing as it goes, so the
// loader can verify bundle integrity without a temp file.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(io.LimitReader(r, maxSize+1), h))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", fmt.Errorf("content exceeds max size (%d bytes, limit %d)", len(data), maxSize)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// extractTarGzToMem unpacks a verified .tar.gz bundle into an in-memory
// filesystem. The bundle never touches disk; a swap is a pointer store.
func extractTarGzToMem(data []byte) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gr.Close()

	mfs := make(fstest.MapFS)
	tr := tar.NewReader(gr)
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return mfs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		name, ok, err := entryName(hdr.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			// MapFS synthesizes directories
		case tar.TypeReg:
			content, err := readEntry(tr, hdr, name)
			if err != nil {
				return nil, err
			}
			total += int64(len(content))
			if total > maxTotalExtract {
				return nil, fmt.Errorf("total extracted size exceeds limit (%d bytes, max %d)",
					total, maxTotalExtract)
			}
			mfs[name] = &fstest.MapFile{
				Data: content,
				Mode: hdr.FileInfo().Mode().Perm(),
			}
		default:
			// symlinks, devices, and the rest have no business in a doc bundle
			return nil, fmt.Errorf("unsupported file type in archive: %s (type=%d)",
				name, hdr.Typeflag)
		}
	}
}

// entryName cleans an archive member name and rejects anything that would
// escape the bundle root. ok is false for ignorable entries.
func entryName(raw string) (name string, ok bool, err error) {
	name = path.Clean(raw)
	if name == "." || name == "" {
		return "", false, nil
	}
	if path.IsAbs(name) {
		return "", false, fmt.Errorf("absolute path in archive: %s", raw)
	}
	if strings.Contains(name, "..") {
		return "", false, fmt.Errorf("path traversal in archive: %s", raw)
	}
	return name, true, nil
}

// readEntry reads one regular file out of the tar stream, enforcing the
// per-file ceiling against both the header claim and the actual bytes.
func readEntry(tr *tar.Reader, hdr *tar.Header, name string) ([]byte, error) {
	if hdr.Size > maxSingleFile {
		return nil, fmt.Errorf("file %s exceeds max size (%d > %d)", name, hdr.Size, maxSingleFile)
	}
	content, err := io.ReadAll(io.LimitReader(tr, maxSingleFile+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(content)) > maxSingleFile {
		return nil, fmt.Errorf("file %s exceeds max size after read", name)
	}
	return content, nil
}

// ComputeFileHash returns the hex SHA256 of a file on disk.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateBundle checks a downloaded bundle file against its published hash.
func ValidateBundle(path, expectedHash string) error {
	hash, err := ComputeFileHash(path)
	if err != nil {
		return xerrors.Wrapf(err, "compute hash of %s", path)
	}
	if !cryptoutil.HashEqual(hash, expectedHash) {
		return fmt.Errorf("hash mismatch: expected %s, got %s", expectedHash, hash)
	}
	return nil
}
