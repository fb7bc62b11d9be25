package worldgen

import (
	"fmt"
	"strings"
)

// ValidationError reports a request that cannot be generated. It is raised
// before any backend is contacted.
type ValidationError struct {
	Kind ContentType

	// MissingFields lists absent required fields in declaration order.
	MissingFields []string

	// InvalidFields lists present fields whose value is not acceptable.
	InvalidFields []string

	// UnknownType is set when the content type itself was not recognised.
	UnknownType string
	Suggestion  string
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		msg := fmt.Sprintf("unknown content type %q", e.UnknownType)
		if e.Suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
		}
		return msg
	}
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.MissingFields, ", "))
	}
	if len(e.InvalidFields) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.InvalidFields, ", "))
	}
	return strings.Join(parts, "; ")
}

// FieldDoc describes the accepted fields of one content type.
type FieldDoc struct {
	Required []string `json:"requiredFields"`
	Optional []string `json:"optionalFields"`
}

var fieldDocs = map[ContentType]FieldDoc{
	KindNPC: {
		Required: []string{"race", "occupation"},
		Optional: []string{"personality", "background", "setting", "knowledgeAreas", "includePortrait", "includeVoice"},
	},
	KindLocation: {
		Required: []string{"mapId", "name", "type", "coordinates"},
		Optional: []string{"description", "atmosphere", "includeImage", "mood", "style"},
	},
	KindAdventure: {
		Required: []string{"worldId", "title"},
		Optional: []string{"description", "genre", "theme", "difficulty", "educationalObjectives", "includeImage"},
	},
	KindTerrain: {
		Required: []string{"biome", "size", "climate"},
		Optional: []string{"features", "includeImage"},
	},
	KindWorldHistory: {Required: []string{"worldName", "prompt"}, Optional: []string{"language"}},
	KindMonster:      {Required: []string{"monsterType", "prompt"}, Optional: []string{"language"}},
	KindMission:      {Required: []string{"missionType", "prompt"}, Optional: []string{"language"}},
	KindObject:       {Required: []string{"objectType", "prompt"}, Optional: []string{"language"}},
	KindMap:          {Required: []string{"mapType", "prompt"}, Optional: []string{"language"}},
}

// Fields returns the field documentation for kind.
func Fields(kind ContentType) FieldDoc {
	return fieldDocs[kind]
}

// Accepted enumerations.
var (
	Difficulties = []string{"easy", "medium", "hard"}
	TerrainSizes = []string{"small", "medium", "large", "vast", "continental"}
	Languages    = []string{"EN", "ES"}
)

// checker accumulates missing and invalid fields in the order they are
// checked.
type checker struct {
	kind    ContentType
	missing []string
	invalid []string
}

func (c *checker) required(name, value string) {
	if strings.TrimSpace(value) == "" {
		c.missing = append(c.missing, name)
	}
}

func (c *checker) oneOf(name, value string, allowed []string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	c.invalid = append(c.invalid, name)
}

func (c *checker) err() error {
	if len(c.missing) == 0 && len(c.invalid) == 0 {
		return nil
	}
	return &ValidationError{Kind: c.kind, MissingFields: c.missing, InvalidFields: c.invalid}
}
