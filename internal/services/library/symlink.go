package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/utils"
	"github.com/rs/zerolog"
)

var (
	imdbTagRegex    = regexp.MustCompile(`\{imdb-(tt\d+)\}`)
	versionTagRegex = regexp.MustCompile(`\[([^\[\]]+)\][^\[\]]*$`)
	unsafeChars     = strings.NewReplacer("/", " ", "\\", " ", ":", " -", "*", "", "?", "", "\"", "", "<", "", ">", "", "|", "")
)

// Symlinks maintains a tree of symlinks pointing into the debrid mount
type Symlinks struct {
	root   string
	mount  *Mount
	logger zerolog.Logger
}

// NewSymlinks creates a symlink library rooted at root
func NewSymlinks(root string, mount *Mount, logger zerolog.Logger) *Symlinks {
	return &Symlinks{
		root:   filepath.Clean(root),
		mount:  mount,
		logger: logger.With().Str("component", "symlinks").Logger(),
	}
}

// Root returns the top of the symlink tree
func (s *Symlinks) Root() string { return s.root }

func sanitize(name string) string {
	name = unsafeChars.Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	return strings.Trim(name, " .")
}

// LinkPath returns where the symlink of item for a file with the given extension lives
func (s *Symlinks) LinkPath(item *models.MediaItem, ext string) string {
	title := sanitize(item.Title)
	if item.IsEpisode() {
		show := fmt.Sprintf("%s {imdb-%s}", title, item.IMDBId)
		name := fmt.Sprintf("%s - S%02dE%02d", title, item.Season, item.Episode)
		if ep := sanitize(item.EpisodeTitle); ep != "" {
			name += " - " + ep
		}
		name += fmt.Sprintf(" [%s]%s", sanitize(item.Version), ext)
		return filepath.Join(s.root, "shows", show, fmt.Sprintf("Season %02d", item.Season), name)
	}
	base := title
	if item.Year > 0 {
		base = fmt.Sprintf("%s (%d)", title, item.Year)
	}
	dir := fmt.Sprintf("%s {imdb-%s}", base, item.IMDBId)
	name := fmt.Sprintf("%s [%s]%s", base, sanitize(item.Version), ext)
	return filepath.Join(s.root, "movies", dir, name)
}

// Link creates (or replaces) the symlink for item pointing at targetRel inside the mount
func (s *Symlinks) Link(item *models.MediaItem, targetRel string) (string, error) {
	link := s.LinkPath(item, filepath.Ext(targetRel))
	target := s.mount.Abs(targetRel)
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return "", fmt.Errorf("failed to create library directory: %w", err)
	}

	// write a temporary link and rename it over the final name
	tmp := filepath.Join(filepath.Dir(link), "."+filepath.Base(link)+".tmp")
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return "", fmt.Errorf("failed to create symlink: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to place symlink: %w", err)
	}
	s.logger.Info().Str("link", link).Str("target", target).Msg("Symlink created")
	return link, nil
}

// Check verifies that link is a symlink whose target exists and is readable
func (s *Symlinks) Check(link string) error {
	fi, err := os.Lstat(link)
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("%s is not a symlink", link)
	}
	f, err := os.Open(link)
	if err != nil {
		return fmt.Errorf("broken symlink %s: %w", link, err)
	}
	return f.Close()
}

// Remove unlinks a symlink inside the tree and prunes directories left empty
func (s *Symlinks) Remove(link string) error {
	if !s.within(link) {
		return fmt.Errorf("%s is outside the library", link)
	}
	fi, err := os.Lstat(link)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("refusing to remove %s: not a symlink", link)
	}
	if err := os.Remove(link); err != nil {
		return err
	}
	s.prune(filepath.Dir(link))
	return nil
}

func (s *Symlinks) prune(dir string) {
	for s.within(dir) && dir != s.root {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *Symlinks) within(p string) bool {
	rel, err := filepath.Rel(s.root, filepath.Clean(p))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Walk calls fn for every symlink in the tree
func (s *Symlinks) Walk(ctx context.Context, fn func(link string) error) error {
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == s.root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return fn(p)
		}
		return nil
	})
	return err
}

// ScanCollected reads the identities back out of the tree's naming scheme
func (s *Symlinks) ScanCollected(ctx context.Context) ([]Collected, error) {
	var out []Collected
	err := s.Walk(ctx, func(link string) error {
		rel, _ := filepath.Rel(s.root, link)
		m := imdbTagRegex.FindStringSubmatch(rel)
		if m == nil {
			return nil
		}
		c := Collected{IMDBId: m[1], MediaType: models.MediaTypeMovie, Version: VersionOf(link), Path: link}
		if strings.HasPrefix(filepath.ToSlash(rel), "shows/") {
			seasons, episodes := utils.ParseSeasonEpisodes(filepath.Base(link))
			if len(seasons) == 0 || len(episodes) == 0 {
				return nil
			}
			c.MediaType = models.MediaTypeEpisode
			c.Season, c.Episode = seasons[0], episodes[0]
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// VersionOf returns the version tag embedded in a link name
func VersionOf(link string) string {
	if m := versionTagRegex.FindStringSubmatch(filepath.Base(link)); m != nil {
		return m[1]
	}
	return ""
}

// QueueRemoval drops the symlink right away
func (s *Symlinks) QueueRemoval(_ context.Context, r Removal) error {
	if r.Path == "" {
		return nil
	}
	if err := s.Remove(r.Path); err != nil {
		return err
	}
	s.logger.Info().Str("title", r.Title).Str("path", r.Path).Msg("Library entry removed")
	return nil
}

// Refresh is a no-op for a plain symlink tree
func (s *Symlinks) Refresh(context.Context, string) error { return nil }
