// Package checksum fingerprints source files and sorts a log directory into
// new, modified and unchanged files.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const DefaultChunkSize = 4096

// Sum returns the hex SHA-256 of the file at path, reading chunkSize bytes at a time.
func Sum(path string, chunkSize int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return SumReader(f, chunkSize)
}

func SumReader(r io.Reader, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	h := sha256.New()
	if _, err := io.CopyBuffer(h, onlyReader{r}, make([]byte, chunkSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// onlyReader hides WriterTo so io.CopyBuffer honours the chunk size.
type onlyReader struct{ io.Reader }

// Tee wraps r so every byte read through it is hashed. The returned func
// yields the digest of everything read so far.
func Tee(r io.Reader) (io.Reader, func() string) {
	h := sha256.New()
	return io.TeeReader(r, h), digest(h)
}

func digest(h hash.Hash) func() string {
	return func() string { return hex.EncodeToString(h.Sum(nil)) }
}

// Detection partitions the candidate files of a directory. Each slice is sorted.
type Detection struct {
	New       []string
	Modified  []string
	Unchanged []string
}

func (d Detection) Empty() bool {
	return len(d.New) == 0 && len(d.Modified) == 0
}

type Detector struct {
	Dir       string
	Suffix    string
	ChunkSize int
}

// List returns the sorted names of regular files in Dir ending in Suffix.
func (d Detector) List() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("read log directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if d.Suffix != "" && !strings.HasSuffix(entry.Name(), d.Suffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Detect compares the directory against processed, a filename to checksum map.
func (d Detector) Detect(processed map[string]string) (Detection, error) {
	names, err := d.List()
	if err != nil {
		return Detection{}, err
	}

	var out Detection
	for _, name := range names {
		stored, seen := processed[name]
		if !seen {
			out.New = append(out.New, name)
			continue
		}
		current, err := Sum(filepath.Join(d.Dir, name), d.ChunkSize)
		if err != nil {
			return Detection{}, fmt.Errorf("checksum %s: %w", name, err)
		}
		if current == stored {
			out.Unchanged = append(out.Unchanged, name)
		} else {
			out.Modified = append(out.Modified, name)
		}
	}
	return out, nil
}
