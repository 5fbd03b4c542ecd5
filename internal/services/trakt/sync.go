package trakt

import (
	"context"
	"fmt"
	"net/url"
)

// IDs are the identifiers Trakt publishes for a title
type IDs struct {
	Trakt int    `json:"trakt"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb"`
	TMDB  int    `json:"tmdb"`
}

// Title is the common movie/show header
type Title struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// ListItem is one entry of a watchlist, collection, favorites or custom list
type ListItem struct {
	Type  string `json:"type"` // "movie" or "show"
	Movie *Title `json:"movie,omitempty"`
	Show  *Title `json:"show,omitempty"`
}

// GetFavorites retrieves favorites from Trakt
func (c *Client) GetFavorites(ctx context.Context, mediaType string) ([]ListItem, error) {
	var items []ListItem
	if err := c.doRequest(ctx, "GET", "/sync/favorites/"+mediaType, nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get favorites: %w", err)
	}
	return items, nil
}

// GetWatchlist retrieves watchlist from Trakt
func (c *Client) GetWatchlist(ctx context.Context, mediaType string) ([]ListItem, error) {
	var items []ListItem
	if err := c.doRequest(ctx, "GET", "/sync/watchlist/"+mediaType, nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get watchlist: %w", err)
	}
	return items, nil
}

// GetCollection retrieves the user's collection
func (c *Client) GetCollection(ctx context.Context, mediaType string) ([]ListItem, error) {
	var raw []struct {
		Movie *Title `json:"movie,omitempty"`
		Show  *Title `json:"show,omitempty"`
	}
	if err := c.doRequest(ctx, "GET", "/sync/collection/"+mediaType, nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	items := make([]ListItem, 0, len(raw))
	for _, r := range raw {
		switch {
		case r.Movie != nil:
			items = append(items, ListItem{Type: "movie", Movie: r.Movie})
		case r.Show != nil:
			items = append(items, ListItem{Type: "show", Show: r.Show})
		}
	}
	return items, nil
}

// GetUserList retrieves the movies and shows of a user's custom list
func (c *Client) GetUserList(ctx context.Context, user, list string) ([]ListItem, error) {
	path := fmt.Sprintf("/users/%s/lists/%s/items/movie,show", url.PathEscape(user), url.PathEscape(list))

	var items []ListItem
	if err := c.doRequest(ctx, "GET", path, nil, &items); err != nil {
		return nil, fmt.Errorf("failed to get list %s/%s: %w", user, list, err)
	}
	return items, nil
}
