// pkg/storage/dirstore.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DirStore keeps one record per file, named <seed>.<ext>.
type DirStore struct {
	dir string
	ext string
}

func NewDirStore(dir, ext string) (*DirStore, error) {
	if ext == "" {
		ext = "bin"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{dir: dir, ext: strings.TrimPrefix(ext, ".")}, nil
}

func (s *DirStore) path(seed uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.%s", seed, s.ext))
}

// Put writes rec for seed, replacing an earlier file.
func (s *DirStore) Put(seed uint64, rec []byte) error {
	return AtomicWrite(s.path(seed), rec, 0o644)
}

// Load reads every record with the store's extension in seed order.
// Files whose base name is not a seed are skipped.
func (s *DirStore) Load() ([][]byte, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	type file struct {
		seed uint64
		name string
	}
	var files []file
	suffix := "." + s.ext
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		seed, err := strconv.ParseUint(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, file{seed: seed, name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seed < files[j].seed })

	out := make([][]byte, 0, len(files))
	for _, f := range files {
		rec, err := os.ReadFile(filepath.Join(s.dir, f.name))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
