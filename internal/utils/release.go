package utils

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/moistari/rls"
)

// Release is what can be read out of a release or file name
type Release struct {
	Title      string
	Year       int
	Seasons    []int
	Episodes   []int
	Resolution string
	HDR        bool
	Codec      string
	Group      string
	Complete   bool
}

// IsSeasonPack reports a season token without any episode token
func (r Release) IsSeasonPack() bool {
	return len(r.Seasons) > 0 && len(r.Episodes) == 0
}

// HasEpisode reports whether ep is among the parsed episodes
func (r Release) HasEpisode(ep int) bool {
	for _, e := range r.Episodes {
		if e == ep {
			return true
		}
	}
	return false
}

// HasSeason reports whether s is among the parsed seasons
func (r Release) HasSeason(s int) bool {
	for _, v := range r.Seasons {
		if v == s {
			return true
		}
	}
	return false
}

var (
	episodeRegex     = regexp.MustCompile(`(?i)(?:^|[\s._\-\[(/])S(\d{1,2})[\s._]?E(\d{1,3})`)
	episodeNextRegex = regexp.MustCompile(`(?i)^(?:[\s._]?(-)[\s._]?E?|[\s._]?E)(\d{1,3})(?:[^\dp]|$)`)
	crossRegex       = regexp.MustCompile(`(?i)(?:^|[\s._\-\[(/])(\d{1,2})x(\d{2,3})(?:-(\d{2,3}))?(?:[^\dp]|$)`)
	seasonRangeRegex = regexp.MustCompile(`(?i)(?:^|[\s._\-\[(/])S(\d{1,2})[\s._]?-[\s._]?S?(\d{1,2})(?:[\s._\])]|$)`)
	seasonRegex      = regexp.MustCompile(`(?i)(?:^|[\s._\-\[(/])S(\d{1,2})(?:[\s._\])\-]|$)`)
	seasonWordRegex  = regexp.MustCompile(`(?i)\bSeasons?[\s._]?(\d{1,2})(?:[\s._]?(?:-|to)[\s._]?(\d{1,2}))?\b`)
	bareEpisodeRegex = regexp.MustCompile(`(?i)(?:^|[\s._\-\[(/])(?:E|Ep|Episode)[\s._]?(\d{1,3})(?:[^\dp]|$)`)
	completeRegex    = regexp.MustCompile(`(?i)\b(complete|integrale|collection)\b`)
	resolutionRegex  = regexp.MustCompile(`(?i)\b(2160p|4k|uhd|1080p|1080i|720p|576p|480p)\b`)
	hdrRegex         = regexp.MustCompile(`(?i)\b(hdr|hdr10|hdr10\+|hdr10plus|dv|dovi|dolby[\s.]?vision)\b`)
	yearRegex        = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

// ParseRelease parses a release title
func ParseRelease(name string) Release {
	r := rls.ParseString(name)

	out := Release{
		Title:      r.Title,
		Year:       r.Year,
		Resolution: normalizeResolution(r.Resolution),
		HDR:        len(r.HDR) > 0,
		Group:      r.Group,
	}
	if len(r.Codec) > 0 {
		out.Codec = strings.Join(r.Codec, " ")
	}
	if out.Resolution == "" {
		if m := resolutionRegex.FindStringSubmatch(name); m != nil {
			out.Resolution = normalizeResolution(m[1])
		}
	}
	if !out.HDR && hdrRegex.MatchString(name) {
		out.HDR = true
	}
	if out.Year == 0 {
		out.Year = ExtractYear(name)
	}
	if out.Title == "" {
		out.Title = name
	}

	out.Seasons, out.Episodes = ParseSeasonEpisodes(name)
	out.Complete = completeRegex.MatchString(name)
	return out
}

// ParseSeasonEpisodes extracts season numbers and episode numbers.
// Multi-episode forms (S01E01E02, S01E01-E03, 1x01-03) yield every covered episode.
func ParseSeasonEpisodes(name string) (seasons []int, episodes []int) {
	if loc := episodeRegex.FindStringSubmatchIndex(name); loc != nil {
		season, _ := strconv.Atoi(name[loc[2]:loc[3]])
		first, _ := strconv.Atoi(name[loc[4]:loc[5]])
		episodes = append(episodes, first)
		last := first
		rest := name[loc[1]:]
		for {
			m := episodeNextRegex.FindStringSubmatchIndex(rest)
			if m == nil {
				break
			}
			n, _ := strconv.Atoi(rest[m[4]:m[5]])
			if n <= last || n-last > 50 {
				break
			}
			if m[2] >= 0 { // range
				for e := last + 1; e <= n; e++ {
					episodes = append(episodes, e)
				}
			} else {
				episodes = append(episodes, n)
			}
			last = n
			rest = rest[m[5]:]
		}
		return []int{season}, uniqueSorted(episodes)
	}

	if m := crossRegex.FindStringSubmatch(name); m != nil {
		season, _ := strconv.Atoi(m[1])
		first, _ := strconv.Atoi(m[2])
		episodes = []int{first}
		if m[3] != "" {
			if last, _ := strconv.Atoi(m[3]); last > first && last-first <= 50 {
				for e := first + 1; e <= last; e++ {
					episodes = append(episodes, e)
				}
			}
		}
		return []int{season}, episodes
	}

	if m := seasonRangeRegex.FindStringSubmatch(name); m != nil {
		seasons = seasonSpan(m[1], m[2])
	} else if m := seasonWordRegex.FindStringSubmatch(name); m != nil {
		seasons = seasonSpan(m[1], m[2])
	} else if m := seasonRegex.FindStringSubmatch(name); m != nil {
		s, _ := strconv.Atoi(m[1])
		seasons = []int{s}
	}

	if m := bareEpisodeRegex.FindStringSubmatch(name); m != nil {
		e, _ := strconv.Atoi(m[1])
		episodes = []int{e}
	}
	return seasons, episodes
}

func seasonSpan(from, to string) []int {
	a, _ := strconv.Atoi(from)
	if to == "" {
		return []int{a}
	}
	b, _ := strconv.Atoi(to)
	if b < a || b-a > 50 {
		return []int{a}
	}
	out := make([]int, 0, b-a+1)
	for s := a; s <= b; s++ {
		out = append(out, s)
	}
	return out
}

func uniqueSorted(in []int) []int {
	sort.Ints(in)
	out := in[:0]
	for i, v := range in {
		if i == 0 || v != in[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func normalizeResolution(res string) string {
	switch strings.ToLower(strings.TrimSpace(res)) {
	case "2160p", "4k", "uhd":
		return "2160p"
	case "1080p", "1080i":
		return "1080p"
	case "720p":
		return "720p"
	case "576p", "480p", "sd":
		return "480p"
	}
	return ""
}

// ExtractYear extracts a 4-digit year from a title
// Returns 0 if no year is found
func ExtractYear(title string) int {
	matches := yearRegex.FindStringSubmatch(title)
	if len(matches) > 1 {
		year, err := strconv.Atoi(matches[1])
		if err == nil {
			return year
		}
	}
	return 0
}
