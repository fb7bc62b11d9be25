package worldgen

import (
	"fmt"
	"strings"
)

// Request is a normalised generation request. The concrete types are the
// *XRequest structs in this package.
type Request interface {
	Kind() ContentType

	// Validate reports missing required fields and invalid enum values as a
	// [*ValidationError]. Empty optional fields are valid.
	Validate() error

	withDefaults()
}

// Coordinates locate a place on a map.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NPCRequest asks for a non-player character.
type NPCRequest struct {
	Race            string   `json:"race"`
	Occupation      string   `json:"occupation"`
	Personality     string   `json:"personality,omitempty"`
	Background      string   `json:"background,omitempty"`
	Setting         string   `json:"setting,omitempty"`
	KnowledgeAreas  []string `json:"knowledgeAreas,omitempty"`
	IncludePortrait bool     `json:"includePortrait,omitempty"`
	IncludeVoice    bool     `json:"includeVoice,omitempty"`
}

func (*NPCRequest) Kind() ContentType { return KindNPC }

func (r *NPCRequest) Validate() error {
	c := checker{kind: KindNPC}
	c.required("race", r.Race)
	c.required("occupation", r.Occupation)
	return c.err()
}

func (r *NPCRequest) withDefaults() {
	r.Personality = orDefault(r.Personality, "neutral")
	r.Background = orDefault(r.Background, fmt.Sprintf("A typical %s %s", r.Race, r.Occupation))
	r.Setting = orDefault(r.Setting, "fantasy world")
	if len(r.KnowledgeAreas) == 0 {
		r.KnowledgeAreas = []string{r.Occupation}
	}
}

// LocationRequest asks for a location placed on a map.
type LocationRequest struct {
	MapID        string       `json:"mapId"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Coordinates  *Coordinates `json:"coordinates"`
	Description  string       `json:"description,omitempty"`
	Atmosphere   string       `json:"atmosphere,omitempty"`
	Mood         string       `json:"mood,omitempty"`
	Style        string       `json:"style,omitempty"`
	IncludeImage bool         `json:"includeImage,omitempty"`
}

func (*LocationRequest) Kind() ContentType { return KindLocation }

func (r *LocationRequest) Validate() error {
	c := checker{kind: KindLocation}
	c.required("mapId", r.MapID)
	c.required("name", r.Name)
	c.required("type", r.Type)
	if r.Coordinates == nil {
		c.missing = append(c.missing, "coordinates")
	}
	return c.err()
}

func (r *LocationRequest) withDefaults() {
	r.Description = orDefault(r.Description, fmt.Sprintf("A %s called %s", r.Type, r.Name))
	r.Atmosphere = orDefault(r.Atmosphere, "mysterious")
	r.Mood = orDefault(r.Mood, "atmospheric")
	r.Style = orDefault(r.Style, "fantasy")
}

// AdventureRequest asks for an adventure campaign in a world.
type AdventureRequest struct {
	WorldID               string `json:"worldId"`
	Title                 string `json:"title"`
	Description           string `json:"description,omitempty"`
	Genre                 string `json:"genre,omitempty"`
	Theme                 string `json:"theme,omitempty"`
	Difficulty            string `json:"difficulty,omitempty"`
	EducationalObjectives []any  `json:"educationalObjectives"`
	IncludeImage          bool   `json:"includeImage,omitempty"`
}

func (*AdventureRequest) Kind() ContentType { return KindAdventure }

func (r *AdventureRequest) Validate() error {
	c := checker{kind: KindAdventure}
	c.required("worldId", r.WorldID)
	c.required("title", r.Title)
	c.oneOf("difficulty", r.Difficulty, Difficulties)
	return c.err()
}

func (r *AdventureRequest) withDefaults() {
	r.Description = orDefault(r.Description, fmt.Sprintf("An adventure titled %q", r.Title))
	r.Genre = orDefault(r.Genre, "fantasy")
	r.Theme = orDefault(r.Theme, "heroism")
	r.Difficulty = orDefault(r.Difficulty, "medium")
	if r.EducationalObjectives == nil {
		r.EducationalObjectives = []any{}
	}
}

// TerrainRequest asks for a terrain description.
type TerrainRequest struct {
	Biome        string   `json:"biome"`
	Size         string   `json:"size"`
	Climate      string   `json:"climate"`
	Features     []string `json:"features"`
	IncludeImage bool     `json:"includeImage,omitempty"`
}

func (*TerrainRequest) Kind() ContentType { return KindTerrain }

func (r *TerrainRequest) Validate() error {
	c := checker{kind: KindTerrain}
	c.required("biome", r.Biome)
	c.required("size", r.Size)
	c.required("climate", r.Climate)
	c.oneOf("size", r.Size, TerrainSizes)
	return c.err()
}

func (r *TerrainRequest) withDefaults() {
	if r.Features == nil {
		r.Features = []string{}
	}
}

// WorldHistoryRequest asks for the history of a named world.
type WorldHistoryRequest struct {
	WorldName string `json:"worldName"`
	Prompt    string `json:"prompt"`
	Language  string `json:"language"`
}

func (*WorldHistoryRequest) Kind() ContentType { return KindWorldHistory }

func (r *WorldHistoryRequest) Validate() error {
	return validatePrompted(KindWorldHistory, "worldName", r.WorldName, r.Prompt, r.Language)
}

func (r *WorldHistoryRequest) withDefaults() { r.Language = language(r.Language) }

// MonsterRequest asks for a monster of a given type.
type MonsterRequest struct {
	MonsterType string `json:"monsterType"`
	Prompt      string `json:"prompt"`
	Language    string `json:"language"`
}

func (*MonsterRequest) Kind() ContentType { return KindMonster }

func (r *MonsterRequest) Validate() error {
	return validatePrompted(KindMonster, "monsterType", r.MonsterType, r.Prompt, r.Language)
}

func (r *MonsterRequest) withDefaults() { r.Language = language(r.Language) }

// MissionRequest asks for a mission of a given type.
type MissionRequest struct {
	MissionType string `json:"missionType"`
	Prompt      string `json:"prompt"`
	Language    string `json:"language"`
}

func (*MissionRequest) Kind() ContentType { return KindMission }

func (r *MissionRequest) Validate() error {
	return validatePrompted(KindMission, "missionType", r.MissionType, r.Prompt, r.Language)
}

func (r *MissionRequest) withDefaults() { r.Language = language(r.Language) }

// ObjectRequest asks for an item of a given type.
type ObjectRequest struct {
	ObjectType string `json:"objectType"`
	Prompt     string `json:"prompt"`
	Language   string `json:"language"`
}

func (*ObjectRequest) Kind() ContentType { return KindObject }

func (r *ObjectRequest) Validate() error {
	return validatePrompted(KindObject, "objectType", r.ObjectType, r.Prompt, r.Language)
}

func (r *ObjectRequest) withDefaults() { r.Language = language(r.Language) }

// MapRequest asks for a map of a given type.
type MapRequest struct {
	MapType  string `json:"mapType"`
	Prompt   string `json:"prompt"`
	Language string `json:"language"`
}

func (*MapRequest) Kind() ContentType { return KindMap }

func (r *MapRequest) Validate() error {
	return validatePrompted(KindMap, "mapType", r.MapType, r.Prompt, r.Language)
}

func (r *MapRequest) withDefaults() { r.Language = language(r.Language) }

func validatePrompted(kind ContentType, typeField, typeValue, prompt, lang string) error {
	c := checker{kind: kind}
	c.required(typeField, typeValue)
	c.required("prompt", prompt)
	c.oneOf("language", strings.ToUpper(lang), Languages)
	return c.err()
}

func language(s string) string {
	if s == "" {
		return "EN"
	}
	return strings.ToUpper(s)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// prepare validates req and fills in its defaults.
func prepare(req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	req.withDefaults()
	return nil
}
