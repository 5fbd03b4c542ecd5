package utils

import (
	"bufio"
	"os"
	"strings"
)

// Blacklist holds release terms that are never acceptable, whatever the version profile says
type Blacklist struct {
	terms []string
}

// NewBlacklist builds a blacklist from literal terms
func NewBlacklist(terms ...string) *Blacklist {
	return &Blacklist{terms: terms}
}

// LoadBlacklist loads blacklist terms from a file, one per line, # for comments
func LoadBlacklist(path string) (*Blacklist, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Blacklist{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var terms []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		term := strings.TrimSpace(scanner.Text())
		if term != "" && !strings.HasPrefix(term, "#") {
			terms = append(terms, term)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &Blacklist{terms: terms}, nil
}

// Len returns the number of terms
func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.terms)
}

// IsBlacklisted checks if a title matches any blacklist term
// Returns (isBlacklisted, matchedTerm)
func (b *Blacklist) IsBlacklisted(title string) (bool, string) {
	if b == nil {
		return false, ""
	}
	titleLower := strings.ToLower(title)
	for _, term := range b.terms {
		if strings.Contains(titleLower, strings.ToLower(term)) {
			return true, term
		}
	}
	return false, ""
}
