package worldgen

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// ContentType names a kind of generated content.
type ContentType string

const (
	KindNPC          ContentType = "npc"
	KindLocation     ContentType = "location"
	KindAdventure    ContentType = "adventure"
	KindTerrain      ContentType = "terrain"
	KindWorldHistory ContentType = "world-history"
	KindMonster      ContentType = "monster"
	KindMission      ContentType = "mission"
	KindObject       ContentType = "object"
	KindMap          ContentType = "map"
)

// ContentTypes lists every content type in a stable order.
var ContentTypes = []ContentType{
	KindNPC, KindLocation, KindAdventure, KindTerrain,
	KindWorldHistory, KindMonster, KindMission, KindObject, KindMap,
}

// idPrefix is the prefix of the id assigned to each generated asset.
var idPrefix = map[ContentType]string{
	KindNPC:          "npc",
	KindLocation:     "location",
	KindAdventure:    "adventure",
	KindTerrain:      "terrain",
	KindWorldHistory: "history",
	KindMonster:      "monster",
	KindMission:      "mission",
	KindObject:       "object",
	KindMap:          "map",
}

// typeAliases accepts the spellings clients historically sent.
var typeAliases = map[string]ContentType{
	"worldhistory":  KindWorldHistory,
	"world_history": KindWorldHistory,
	"history":       KindWorldHistory,
	"character":     KindNPC,
	"item":          KindObject,
	"campaign":      KindAdventure,
}

// maxSuggestionDistance bounds how far a typo may be from a known type for
// ParseContentType to suggest it.
const maxSuggestionDistance = 3

// ParseContentType resolves s to a ContentType. Matching is case-insensitive
// and accepts a few aliases. Unknown names yield a [*ValidationError] whose
// Suggestion holds the closest known type, if any is close enough.
func ParseContentType(s string) (ContentType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, k := range ContentTypes {
		if string(k) == key {
			return k, nil
		}
	}
	if k, ok := typeAliases[key]; ok {
		return k, nil
	}
	return "", &ValidationError{UnknownType: s, Suggestion: suggest(key)}
}

func suggest(key string) string {
	if key == "" {
		return ""
	}
	best, bestDist := "", maxSuggestionDistance+1
	for _, k := range ContentTypes {
		if d := matchr.DamerauLevenshtein(key, string(k)); d < bestDist {
			best, bestDist = string(k), d
		}
	}
	return best
}
