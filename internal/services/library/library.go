package library

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/utils"
)

// ErrNotFound is returned when a torrent file is not visible under the mount yet
var ErrNotFound = errors.New("file not present in library")

// Collected is one title already present in the library
type Collected struct {
	IMDBId    string
	MediaType models.MediaType
	Season    int
	Episode   int
	Version   string // empty when the library does not record versions
	Path      string
}

// Removal asks the library to forget a file
type Removal struct {
	Title        string
	Path         string
	EpisodeTitle string
}

// Agent is the user-visible library
type Agent interface {
	// ScanCollected lists what the library already holds
	ScanCollected(ctx context.Context) ([]Collected, error)
	// QueueRemoval schedules a file to be dropped from the library
	QueueRemoval(ctx context.Context, r Removal) error
	// Refresh tells the library a path changed
	Refresh(ctx context.Context, p string) error
}

// Mount resolves debrid torrent files under the mounted debrid share
type Mount struct {
	root string
}

// NewMount creates a mount resolver rooted at the mounted file location
func NewMount(root string) *Mount {
	return &Mount{root: filepath.Clean(root)}
}

// Root returns the mount root
func (m *Mount) Root() string { return m.root }

// Abs joins a location relative to the mount root
func (m *Mount) Abs(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel))
}

// Exists reports whether a relative location is present and readable
func (m *Mount) Exists(rel string) bool {
	if rel == "" {
		return false
	}
	f, err := os.Open(m.Abs(rel))
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Locate finds a provider file below the mount and returns its location relative to the root.
// Mounts expose torrents either as a folder named after the torrent or flat, so both layouts are tried
// before a shallow search by file name.
func (m *Mount) Locate(torrentName, file string) (string, error) {
	file = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(file)), "/")
	base := path.Base(file)

	candidates := []string{file}
	if torrentName != "" {
		candidates = append(candidates, path.Join(torrentName, file), path.Join(torrentName, base))
	}
	candidates = append(candidates, base)
	for _, c := range candidates {
		if m.Exists(c) {
			return c, nil
		}
	}

	var found string
	errStop := errors.New("stop")
	err := filepath.WalkDir(m.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(m.root, p)
		if d.IsDir() && rel != "." && strings.Count(filepath.ToSlash(rel), "/") >= 2 {
			return fs.SkipDir
		}
		if !d.IsDir() && d.Name() == base && utils.IsVideoFile(d.Name()) {
			found = filepath.ToSlash(rel)
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return "", err
	}
	if found == "" {
		return "", ErrNotFound
	}
	return found, nil
}
