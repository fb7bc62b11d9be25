package api

import (
	"github.com/MrWong99/loreforge/internal/worldgen"
)

type serviceDoc struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Healthy     bool     `json:"healthy"`
	Features    []string `json:"features"`
	Endpoints   []string `json:"endpoints"`
}

var serviceDocs = map[string]serviceDoc{
	"characterService": {
		Name:        "Character Generation",
		Description: "Generates NPCs with personalities, backstories and portraits",
		Features:    []string{"NPC Generation", "Personality Creation", "Portrait Creation", "Voice Assignment"},
		Endpoints:   []string{"/generate-npc"},
	},
	"sceneService": {
		Name:        "Scene & Location Creation",
		Description: "Creates detailed locations, environments and terrain",
		Features:    []string{"Location Generation", "Environment Design", "Terrain Description"},
		Endpoints:   []string{"/generate-location", "/generate-terrain"},
	},
	"adventureService": {
		Name:        "Adventure Generation",
		Description: "Creates story arcs, quest chains and campaigns",
		Features:    []string{"Story Arc Creation", "Quest Chains", "Educational Objectives"},
		Endpoints:   []string{"/generate-adventure"},
	},
	"voiceService": {
		Name:        "Voice Synthesis",
		Description: "Selects character-appropriate voices for NPCs",
		Features:    []string{"Voice Generation", "Character Voice Matching"},
		Endpoints:   []string{},
	},
	"imageService": {
		Name:        "Image Generation",
		Description: "Creates visual assets for world building",
		Features:    []string{"Character Portraits", "Scene Images", "Terrain Maps"},
		Endpoints:   []string{},
	},
	"worldHistoryAPI": {
		Name:        "World History",
		Description: "Writes timelines, geography and cultures for a world",
		Features:    []string{"Timeline Generation", "Culture Design"},
		Endpoints:   []string{"/generate-world-history"},
	},
	"monsterAPI": {
		Name:        "Monster Generation",
		Description: "Creates creatures with stats and abilities",
		Features:    []string{"Creature Design", "Combat Stats"},
		Endpoints:   []string{"/generate-monster"},
	},
	"missionAPI": {
		Name:        "Mission Generation",
		Description: "Creates missions with objectives and rewards",
		Features:    []string{"Objectives", "Rewards", "Difficulty Rating"},
		Endpoints:   []string{"/generate-mission"},
	},
	"npcAPI": {
		Name:        "NPC Catalogue",
		Description: "Generates NPCs through the REST catalogue",
		Features:    []string{"NPC Generation"},
		Endpoints:   []string{"/generate-npc"},
	},
	"objectAPI": {
		Name:        "Object Generation",
		Description: "Creates items with rarity, value and properties",
		Features:    []string{"Item Design", "Rarity Assignment"},
		Endpoints:   []string{"/generate-object"},
	},
	"locationAPI": {
		Name:        "Location Catalogue",
		Description: "Generates locations through the REST catalogue",
		Features:    []string{"Location Generation"},
		Endpoints:   []string{"/generate-location"},
	},
	"mapAPI": {
		Name:        "Map Generation",
		Description: "Describes map layouts and regions",
		Features:    []string{"Layout Description", "Region Planning"},
		Endpoints:   []string{"/generate-map"},
	},
}

// describeService returns the documentation of a health key. Keys without
// documentation, such as those of extra configured backends, get a generic
// entry.
func describeService(key string) serviceDoc {
	if d, ok := serviceDocs[key]; ok {
		return d
	}
	return serviceDoc{
		Name:        key,
		Description: "Generation backend",
		Features:    []string{},
		Endpoints:   []string{},
	}
}

type parameters struct {
	Required []string `json:"required"`
	Optional []string `json:"optional"`
}

type capability struct {
	Endpoint    string     `json:"endpoint"`
	Method      string     `json:"method"`
	Description string     `json:"description"`
	Parameters  parameters `json:"parameters"`
}

var descriptions = map[worldgen.ContentType]string{
	worldgen.KindNPC:          "Generate NPCs with personalities, backstories, knowledge and optional portraits and voices",
	worldgen.KindLocation:     "Generate detailed locations with environment descriptions and optional images",
	worldgen.KindAdventure:    "Generate complete adventures with story arcs and quest chains",
	worldgen.KindTerrain:      "Generate terrain descriptions with geographical features",
	worldgen.KindWorldHistory: "Generate the history, geography and cultures of a world",
	worldgen.KindMonster:      "Generate monsters with stats and abilities",
	worldgen.KindMission:      "Generate missions with objectives, rewards and difficulty",
	worldgen.KindObject:       "Generate objects with rarity, value and properties",
	worldgen.KindMap:          "Generate map layouts, regions and points of interest",
}

func capabilityOf(kind worldgen.ContentType) capability {
	f := worldgen.Fields(kind)
	return capability{
		Endpoint:    "/generate-" + string(kind),
		Method:      "POST",
		Description: descriptions[kind],
		Parameters:  parameters{Required: f.Required, Optional: f.Optional},
	}
}

var examples = map[worldgen.ContentType]map[string]any{
	worldgen.KindNPC: {
		"race":            "elf",
		"occupation":      "librarian",
		"personality":     "wise and mysterious",
		"background":      "keeper of ancient knowledge",
		"setting":         "magical library",
		"knowledgeAreas":  []string{"ancient history", "magical artifacts"},
		"includePortrait": true,
		"includeVoice":    true,
	},
	worldgen.KindLocation: {
		"mapId":        "map_123",
		"name":         "The Whispering Archive",
		"type":         "library",
		"coordinates":  map[string]any{"x": 100, "y": 200},
		"description":  "A vast magical library",
		"atmosphere":   "mysterious and scholarly",
		"includeImage": true,
		"mood":         "mystical",
		"style":        "fantasy",
	},
	worldgen.KindAdventure: {
		"worldId":      "world_456",
		"title":        "The Lost Codex",
		"description":  "A quest to find an ancient magical tome",
		"genre":        "fantasy",
		"theme":        "knowledge vs ignorance",
		"difficulty":   "medium",
		"includeImage": true,
	},
	worldgen.KindTerrain: {
		"biome":        "forest",
		"size":         "large",
		"climate":      "temperate",
		"features":     []string{"ancient ruins", "hidden springs", "old growth trees"},
		"includeImage": true,
	},
	worldgen.KindWorldHistory: {"worldName": "Eldoria", "prompt": "A world recovering from a war between gods", "language": "EN"},
	worldgen.KindMonster:      {"monsterType": "dragon", "prompt": "An ancient dragon guarding a frozen peak", "language": "EN"},
	worldgen.KindMission:      {"missionType": "rescue", "prompt": "Free the miners trapped below the old keep", "language": "EN"},
	worldgen.KindObject:       {"objectType": "amulet", "prompt": "An amulet that hums near running water", "language": "EN"},
	worldgen.KindMap:          {"mapType": "city", "prompt": "A canal city built on the ruins of a fallen empire", "language": "ES"},
}

type usageDoc struct {
	capability
	RequiredFields []string            `json:"requiredFields"`
	OptionalFields []string            `json:"optionalFields"`
	Allowed        map[string][]string `json:"allowedValues,omitempty"`
	Example        map[string]any      `json:"example"`
}

func usage(kind worldgen.ContentType) usageDoc {
	c := capabilityOf(kind)
	d := usageDoc{
		capability:     c,
		RequiredFields: c.Parameters.Required,
		OptionalFields: c.Parameters.Optional,
		Example:        examples[kind],
	}
	switch kind {
	case worldgen.KindAdventure:
		d.Allowed = map[string][]string{"difficulty": worldgen.Difficulties}
	case worldgen.KindTerrain:
		d.Allowed = map[string][]string{"size": worldgen.TerrainSizes}
	case worldgen.KindWorldHistory, worldgen.KindMonster, worldgen.KindMission, worldgen.KindObject, worldgen.KindMap:
		d.Allowed = map[string][]string{"language": worldgen.Languages}
	}
	return d
}
