package utils

import (
	"path"
	"regexp"
	"strings"
)

// resolutionRanks orders the resolutions a profile can ask for
var resolutionRanks = map[string]int{
	"480p":  1,
	"720p":  2,
	"1080p": 3,
	"2160p": 4,
}

// ResolutionRank returns the rank of a resolution. Unknown resolutions rank as SD.
func ResolutionRank(res string) int {
	if r, ok := resolutionRanks[normalizeResolution(res)]; ok {
		return r
	}
	return resolutionRanks["480p"]
}

// MaxResolutionRank is the rank of the best known resolution
func MaxResolutionRank() int {
	return resolutionRanks["2160p"]
}

// KnownResolution reports whether res is a resolution profiles may reference
func KnownResolution(res string) bool {
	_, ok := resolutionRanks[normalizeResolution(res)]
	return ok
}

// ResolutionAllowed checks res against max using relation ("<=", "==", ">=")
func ResolutionAllowed(res, max, relation string) bool {
	have, want := ResolutionRank(res), ResolutionRank(max)
	switch relation {
	case "==":
		return have == want
	case ">=":
		return have >= want
	default:
		return have <= want
	}
}

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".m4v": true, ".ts": true,
	".m2ts": true, ".wmv": true, ".mov": true, ".webm": true, ".mpg": true,
}

var sampleRegex = regexp.MustCompile(`(?i)(^|[\s._\-/\[(])(sample|trailer)([\s._\-/\])]|$)`)

// IsVideoFile reports whether p looks like a playable video file, samples excluded
func IsVideoFile(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if !videoExtensions[ext] {
		return false
	}
	return !sampleRegex.MatchString(p)
}
