package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/rs/zerolog"
)

// Plex talks to a Plex Media Server whose libraries point into the debrid mount
type Plex struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.Mutex
	pending []Removal
}

// NewPlex creates a Plex agent. An empty url disables every call.
func NewPlex(baseURL, token string, logger zerolog.Logger) *Plex {
	return &Plex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "plex").Logger(),
	}
}

type plexSection struct {
	Key      string `json:"key"`
	Type     string `json:"type"` // movie, show
	Title    string `json:"title"`
	Location []struct {
		Path string `json:"path"`
	} `json:"Location"`
}

type plexMetadata struct {
	RatingKey            string `json:"ratingKey"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	Index                int    `json:"index"`
	ParentIndex          int    `json:"parentIndex"`
	GrandparentRatingKey string `json:"grandparentRatingKey"`
	Guid                 []struct {
		ID string `json:"id"`
	} `json:"Guid"`
	Media []struct {
		Part []struct {
			File string `json:"file"`
		} `json:"Part"`
	} `json:"Media"`
}

func (m plexMetadata) imdb() string {
	for _, g := range m.Guid {
		if strings.HasPrefix(g.ID, "imdb://") {
			return strings.TrimPrefix(g.ID, "imdb://")
		}
	}
	return ""
}

func (m plexMetadata) file() string {
	for _, media := range m.Media {
		for _, p := range media.Part {
			if p.File != "" {
				return p.File
			}
		}
	}
	return ""
}

type plexContainer struct {
	MediaContainer struct {
		Directory []plexSection  `json:"Directory"`
		Metadata  []plexMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

func (p *Plex) enabled() bool { return p.baseURL != "" }

func (p *Plex) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("plex request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("plex %s %s: status %d: %s", method, path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *Plex) sections(ctx context.Context) ([]plexSection, error) {
	var c plexContainer
	if err := p.do(ctx, http.MethodGet, "/library/sections", nil, &c); err != nil {
		return nil, err
	}
	return c.MediaContainer.Directory, nil
}

// sectionFor returns the section whose location contains path
func (p *Plex) sectionFor(ctx context.Context, path string) (*plexSection, error) {
	sections, err := p.sections(ctx)
	if err != nil {
		return nil, err
	}
	path = filepath.Clean(path)
	for i := range sections {
		for _, loc := range sections[i].Location {
			root := filepath.Clean(loc.Path)
			if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
				return &sections[i], nil
			}
		}
	}
	return nil, nil
}

// ScanCollected lists every movie and episode Plex knows with an imdb guid
func (p *Plex) ScanCollected(ctx context.Context) ([]Collected, error) {
	if !p.enabled() {
		return nil, nil
	}
	sections, err := p.sections(ctx)
	if err != nil {
		return nil, err
	}

	var out []Collected
	for _, s := range sections {
		switch s.Type {
		case "movie":
			var c plexContainer
			if err := p.do(ctx, http.MethodGet, "/library/sections/"+s.Key+"/all", url.Values{"includeGuids": {"1"}}, &c); err != nil {
				return nil, err
			}
			for _, m := range c.MediaContainer.Metadata {
				if id := m.imdb(); id != "" {
					out = append(out, Collected{IMDBId: id, MediaType: models.MediaTypeMovie, Path: m.file()})
				}
			}
		case "show":
			var shows plexContainer
			if err := p.do(ctx, http.MethodGet, "/library/sections/"+s.Key+"/all", url.Values{"includeGuids": {"1"}}, &shows); err != nil {
				return nil, err
			}
			showIMDB := make(map[string]string, len(shows.MediaContainer.Metadata))
			for _, m := range shows.MediaContainer.Metadata {
				if id := m.imdb(); id != "" {
					showIMDB[m.RatingKey] = id
				}
			}
			var episodes plexContainer
			if err := p.do(ctx, http.MethodGet, "/library/sections/"+s.Key+"/all", url.Values{"type": {"4"}}, &episodes); err != nil {
				return nil, err
			}
			for _, e := range episodes.MediaContainer.Metadata {
				id, ok := showIMDB[e.GrandparentRatingKey]
				if !ok {
					continue
				}
				out = append(out, Collected{
					IMDBId:    id,
					MediaType: models.MediaTypeEpisode,
					Season:    e.ParentIndex,
					Episode:   e.Index,
					Path:      e.file(),
				})
			}
		}
	}
	return out, nil
}

// Refresh asks Plex to rescan the directory holding path
func (p *Plex) Refresh(ctx context.Context, path string) error {
	if !p.enabled() {
		return nil
	}
	section, err := p.sectionFor(ctx, path)
	if err != nil {
		return err
	}
	if section == nil {
		p.logger.Debug().Str("path", path).Msg("No Plex section covers path")
		return nil
	}
	query := url.Values{"path": {filepath.Dir(path)}}
	if err := p.do(ctx, http.MethodGet, "/library/sections/"+section.Key+"/refresh", query, nil); err != nil {
		return err
	}
	p.logger.Debug().Str("section", section.Title).Str("path", path).Msg("Plex refresh requested")
	return nil
}

// QueueRemoval records a file to drop at the next ProcessRemovals
func (p *Plex) QueueRemoval(_ context.Context, r Removal) error {
	if !p.enabled() || r.Path == "" {
		return nil
	}
	p.mu.Lock()
	p.pending = append(p.pending, r)
	p.mu.Unlock()
	p.logger.Info().Str("title", r.Title).Str("path", r.Path).Str("episode_title", r.EpisodeTitle).Msg("Library removal queued")
	return nil
}

// Pending returns the queued removals
func (p *Plex) Pending() []Removal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Removal(nil), p.pending...)
}

// ProcessRemovals rescans the parent directory of every queued file and empties the section trash.
// Removals that fail stay queued.
func (p *Plex) ProcessRemovals(ctx context.Context) error {
	p.mu.Lock()
	queue := p.pending
	p.pending = nil
	p.mu.Unlock()

	var failed []Removal
	trash := map[string]bool{}
	for _, r := range queue {
		section, err := p.sectionFor(ctx, r.Path)
		if err == nil && section != nil {
			err = p.do(ctx, http.MethodGet, "/library/sections/"+section.Key+"/refresh", url.Values{"path": {filepath.Dir(r.Path)}}, nil)
			trash[section.Key] = true
		}
		if err != nil {
			p.logger.Warn().Err(err).Str("path", r.Path).Msg("Failed to process library removal")
			failed = append(failed, r)
		}
	}
	for key := range trash {
		if err := p.do(ctx, http.MethodPut, "/library/sections/"+key+"/emptyTrash", nil, nil); err != nil {
			p.logger.Warn().Err(err).Str("section", key).Msg("Failed to empty Plex trash")
		}
	}

	if len(failed) > 0 {
		p.mu.Lock()
		p.pending = append(failed, p.pending...)
		p.mu.Unlock()
		return fmt.Errorf("%d library removals failed", len(failed))
	}
	return nil
}
