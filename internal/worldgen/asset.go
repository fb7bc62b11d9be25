package worldgen

import "time"

// AssetVersion is stamped into the metadata of every generated asset.
const AssetVersion = "2.0.0"

// GenerationMetadata records how an asset was generated. It is set once by
// the orchestrator and never changed afterwards.
type GenerationMetadata struct {
	Prompt    string    `json:"prompt"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the uniform result of a generation. Success implies Data is
// set and Error is empty; failure implies the opposite.
type Response[T any] struct {
	Success  bool              `json:"success"`
	Data     *T                `json:"data,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata *ResponseMetadata `json:"metadata,omitempty"`
}

// ResponseMetadata describes the backend work behind a response.
type ResponseMetadata struct {
	TokensUsed     int   `json:"tokensUsed"`
	ProcessingTime int64 `json:"processingTime"`
	CacheHit       bool  `json:"cacheHit"`
}

// Erase drops the static data type of r, for callers that handle every
// content type uniformly.
func Erase[T any](r Response[T]) Response[any] {
	out := Response[any]{Success: r.Success, Error: r.Error, Metadata: r.Metadata}
	if r.Data != nil {
		var v any = r.Data
		out.Data = &v
	}
	return out
}

// Personality is the structured personality of an NPC.
type Personality struct {
	Traits      []string `json:"traits"`
	Motivations []string `json:"motivations"`
	Fears       []string `json:"fears"`
	Secrets     []string `json:"secrets"`
	Alignment   string   `json:"alignment"`
	Ideals      []string `json:"ideals"`
	Bonds       []string `json:"bonds"`
	Flaws       []string `json:"flaws"`
	Mannerisms  []string `json:"mannerisms"`
}

// Knowledge is one area an NPC knows about.
type Knowledge struct {
	Topic     string   `json:"topic"`
	Expertise string   `json:"expertise"`
	Facts     []string `json:"facts"`
}

type GeneratedNPC struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Race               string             `json:"race"`
	Occupation         string             `json:"occupation"`
	Personality        Personality        `json:"personality"`
	Backstory          string             `json:"backstory"`
	Knowledge          []Knowledge        `json:"knowledge"`
	DialogueTree       []any              `json:"dialogueTree"`
	Relationships      []any              `json:"relationships"`
	Stats              map[string]any     `json:"stats"`
	VoiceID            string             `json:"voiceId,omitempty"`
	ImageURL           string             `json:"imageUrl,omitempty"`
	AIGenerated        bool               `json:"aiGenerated"`
	GenerationMetadata GenerationMetadata `json:"generationMetadata"`
}

// Environment is the ambient state of a location.
type Environment struct {
	TimeOfDay     string   `json:"timeOfDay"`
	Weather       string   `json:"weather"`
	AmbientSounds []string `json:"ambientSounds"`
	LightLevel    int      `json:"lightLevel"`
}

type GeneratedLocation struct {
	ID                 string             `json:"id"`
	MapID              string             `json:"mapId"`
	Name               string             `json:"name"`
	Type               string             `json:"type"`
	Coordinates        Coordinates        `json:"coordinates"`
	Description        string             `json:"description"`
	NPCs               []any              `json:"npcs"`
	Items              []any              `json:"items"`
	Quests             []any              `json:"quests"`
	Environment        Environment        `json:"environment"`
	Images             []string           `json:"images"`
	AIGenerated        bool               `json:"aiGenerated"`
	GenerationMetadata GenerationMetadata `json:"generationMetadata"`
}

type StoryArc struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Chapters    []any  `json:"chapters"`
	Status      string `json:"status"`
}

type QuestChain struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Quests  []any  `json:"quests"`
	Rewards []any  `json:"rewards"`
}

type GeneratedAdventure struct {
	ID                    string             `json:"id"`
	WorldID               string             `json:"worldId"`
	Name                  string             `json:"name"`
	Description           string             `json:"description"`
	StoryArcs             []StoryArc         `json:"storyArcs"`
	QuestChains           []QuestChain       `json:"questChains"`
	EducationalObjectives []any              `json:"educationalObjectives"`
	Sessions              []any              `json:"sessions"`
	PlayerNotes           bool               `json:"playerNotes"`
	GMNotes               string             `json:"gmNotes"`
	ImageURL              string             `json:"imageUrl,omitempty"`
	AIGenerated           bool               `json:"aiGenerated"`
	GenerationMetadata    GenerationMetadata `json:"generationMetadata"`
}

type GeneratedTerrain struct {
	ID                 string             `json:"id"`
	Biome              string             `json:"biome"`
	Size               string             `json:"size"`
	Climate            string             `json:"climate"`
	Features           []string           `json:"features"`
	Description        string             `json:"description"`
	ImageURL           string             `json:"imageUrl,omitempty"`
	MapData            map[string]any     `json:"mapData,omitempty"`
	AIGenerated        bool               `json:"aiGenerated"`
	GenerationMetadata GenerationMetadata `json:"generationMetadata"`
}

type GeneratedWorldHistory struct {
	ID                 string             `json:"id"`
	WorldName          string             `json:"worldName"`
	Timeline           string             `json:"timeline"`
	Geography          string             `json:"geography"`
	Cultures           string             `json:"cultures"`
	MajorEvents        []string           `json:"majorEvents"`
	AIGenerated        bool               `json:"aiGenerated"`
	GenerationMetadata GenerationMetadata `json:"generationMetadata"`
}

// MonsterStats are the combat numbers of a monster.
type MonsterStats struct {
	Health  int `json:"health"`
	Attack  int `json:"attack"`
	Defense int `json:"defense"`
	Speed   int `json:"speed"`
}

type GeneratedMonster struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Type               string             `json:"type"`
	Stats              MonsterStats       `json:"stats"`
	Abilities          []string           `json:"abilities"`
	Description        string             `json:"description"`
	AIGenerated        bool               `json:"aiGenerated"`
	GenerationMetadata GenerationMetadata `json:"generationMetadata"`
}

type GeneratedMission struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	Type               string             `json:"type"`
	Objectives         []string           `json:"objectives"`
	Rewards            []string           `json:"rewards"`
	Description        string             `json:"description"`
	Difficulty         string             `json:"difficulty"`
	AIGenerated        bool               `json:"aiGenerated"`
	GenerationMetadata GenerationMetadata `json:"generationMetadata"`
}

type GeneratedObject struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Type               string             `json:"type"`
	Properties         []string           `json:"properties"`
	Description        string             `json:"description"`
	Value              float64            `json:"value"`
	Rarity             string             `json:"rarity"`
	AIGenerated        bool               `json:"aiGenerated"`
	GenerationMetadata GenerationMetadata `json:"generationMetadata"`
}

type GeneratedMap struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Type               string             `json:"type"`
	Layout             string             `json:"layout"`
	Features           []string           `json:"features"`
	Description        string             `json:"description"`
	AIGenerated        bool               `json:"aiGenerated"`
	GenerationMetadata GenerationMetadata `json:"generationMetadata"`
}

// Rarities accepted for generated objects, from most to least common.
var Rarities = []string{"common", "uncommon", "rare", "epic", "legendary"}
