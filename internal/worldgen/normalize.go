package worldgen

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Normalize turns a loosely typed request body into the Request for kind.
// Missing required fields are reported together, in declaration order, as
// a [*ValidationError]; values of the wrong JSON type are reported as
// invalid. The returned request has its defaults applied.
func Normalize(kind ContentType, raw map[string]any) (Request, error) {
	f := fields{raw: raw}
	var req Request
	switch kind {
	case KindNPC:
		req = &NPCRequest{
			Race:            f.str("race"),
			Occupation:      f.str("occupation"),
			Personality:     f.str("personality"),
			Background:      f.str("background"),
			Setting:         f.str("setting"),
			KnowledgeAreas:  f.strs("knowledgeAreas"),
			IncludePortrait: f.boolean("includePortrait"),
			IncludeVoice:    f.boolean("includeVoice"),
		}
	case KindLocation:
		return normalizeLocation(&f)
	case KindAdventure:
		req = &AdventureRequest{
			WorldID:               f.str("worldId"),
			Title:                 f.str("title"),
			Description:           f.str("description"),
			Genre:                 f.str("genre"),
			Theme:                 f.str("theme"),
			Difficulty:            strings.ToLower(f.str("difficulty")),
			EducationalObjectives: f.list("educationalObjectives"),
			IncludeImage:          f.boolean("includeImage"),
		}
	case KindTerrain:
		req = &TerrainRequest{
			Biome:        f.str("biome"),
			Size:         strings.ToLower(f.str("size")),
			Climate:      f.str("climate"),
			Features:     f.strs("features"),
			IncludeImage: f.boolean("includeImage"),
		}
	case KindWorldHistory:
		req = &WorldHistoryRequest{WorldName: f.str("worldName"), Prompt: f.str("prompt"), Language: f.str("language")}
	case KindMonster:
		req = &MonsterRequest{MonsterType: f.str("monsterType"), Prompt: f.str("prompt"), Language: f.str("language")}
	case KindMission:
		req = &MissionRequest{MissionType: f.str("missionType"), Prompt: f.str("prompt"), Language: f.str("language")}
	case KindObject:
		req = &ObjectRequest{ObjectType: f.str("objectType"), Prompt: f.str("prompt"), Language: f.str("language")}
	case KindMap:
		req = &MapRequest{MapType: f.str("mapType"), Prompt: f.str("prompt"), Language: f.str("language")}
	default:
		return nil, &ValidationError{UnknownType: string(kind), Suggestion: suggest(strings.ToLower(string(kind)))}
	}
	return finish(req, &f)
}

func normalizeLocation(f *fields) (Request, error) {
	req := &LocationRequest{
		MapID:        f.str("mapId"),
		Name:         f.str("name"),
		Type:         f.str("type"),
		Description:  f.str("description"),
		Atmosphere:   f.str("atmosphere"),
		Mood:         f.str("mood"),
		Style:        f.str("style"),
		IncludeImage: f.boolean("includeImage"),
	}
	c := checker{kind: KindLocation}
	c.required("mapId", req.MapID)
	c.required("name", req.Name)
	c.required("type", req.Type)
	switch v := f.raw["coordinates"].(type) {
	case nil:
		c.missing = append(c.missing, "coordinates")
	case map[string]any:
		x, okX := number(v["x"])
		y, okY := number(v["y"])
		if !okX {
			c.missing = append(c.missing, "coordinates.x")
		}
		if !okY {
			c.missing = append(c.missing, "coordinates.y")
		}
		if okX && okY {
			req.Coordinates = &Coordinates{X: x, Y: y}
		}
	default:
		f.invalid = append(f.invalid, "coordinates")
	}
	c.invalid = append(c.invalid, f.invalid...)
	if err := c.err(); err != nil {
		return nil, err
	}
	req.withDefaults()
	return req, nil
}

func finish(req Request, f *fields) (Request, error) {
	err := req.Validate()
	if len(f.invalid) > 0 {
		ve := &ValidationError{Kind: req.Kind()}
		errors.As(err, &ve)
		ve.InvalidFields = append(ve.InvalidFields, f.invalid...)
		return nil, ve
	}
	if err != nil {
		return nil, err
	}
	req.withDefaults()
	return req, nil
}

// fields reads typed values out of a decoded JSON object and remembers keys
// whose value had the wrong type.
type fields struct {
	raw     map[string]any
	invalid []string
}

func (f *fields) str(key string) string {
	switch v := f.raw[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		f.invalid = append(f.invalid, key)
		return ""
	}
}

func (f *fields) boolean(key string) bool {
	switch v := f.raw[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			f.invalid = append(f.invalid, key)
		}
		return b
	default:
		f.invalid = append(f.invalid, key)
		return false
	}
}

// strs accepts a list of strings or a single comma-separated string.
func (f *fields) strs(key string) []string {
	switch v := f.raw[key].(type) {
	case nil:
		return nil
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				f.invalid = append(f.invalid, key)
				return nil
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		f.invalid = append(f.invalid, key)
		return nil
	}
}

func (f *fields) list(key string) []any {
	switch v := f.raw[key].(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		f.invalid = append(f.invalid, key)
		return nil
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
