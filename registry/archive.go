package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/input-output-hk/catalyst-forge-release/errors"
)

// ArchiveDir packs a directory into a deterministic tar.gz blob and returns
// the blob with its digest. Entries are sorted and timestamps zeroed so that
// identical content always produces an identical digest, which is what makes
// fingerprint tags stable across rebuilds of the same source.
func ArchiveDir(dir string) ([]byte, digest.Digest, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, "", errors.Wrap(err, errors.CodeInvalidInput, "failed to read build output directory")
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, path := range paths {
		if err := writeEntry(tw, dir, path); err != nil {
			return nil, "", err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, "", errors.Wrap(err, errors.CodeInternal, "failed to finalize archive")
	}
	if err := gz.Close(); err != nil {
		return nil, "", errors.Wrap(err, errors.CodeInternal, "failed to finalize archive")
	}

	blob := buf.Bytes()
	return blob, digest.FromBytes(blob), nil
}

// writeEntry writes one file into the archive under its dir-relative path.
func writeEntry(tw *tar.Writer, dir, path string) error {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to relativize path")
	}

	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to stat file")
	}

	header := &tar.Header{
		Name:    filepath.ToSlash(rel),
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: time.Unix(0, 0),
	}
	if err := tw.WriteHeader(header); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to write archive header")
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to open file")
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to write archive entry")
	}
	return nil
}
