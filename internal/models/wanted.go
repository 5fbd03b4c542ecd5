package models

import "sort"

// WantedItem is one content-list entry asking for a movie or a whole show
type WantedItem struct {
	IMDBId    string
	TMDBId    string
	MediaType MediaType // movie or show
	Title     string
	Year      int
	Source    string
	Versions  map[string]bool
}

// EnabledVersions returns the version names switched on for this entry
func (w WantedItem) EnabledVersions() []string {
	out := make([]string, 0, len(w.Versions))
	for name, on := range w.Versions {
		if on {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
