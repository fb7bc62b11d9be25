package llm

import "strings"

const basePrompt = `You are a content generator for a tabletop role-playing game world builder.
Answer with exactly one JSON object and nothing else. Use the field names given below.
Keep content original, setting-appropriate and usable at the table.`

// schemas maps an operation to the JSON shape the model is asked for.
var schemas = map[string]string{
	"npc-generator": `Create a non-player character. Fields:
{"name": string, "personality": string, "backstory": string,
 "knowledge": [{"topic": string, "expertise": "novice"|"intermediate"|"expert", "facts": [string]}],
 "stats": {"strength": number, "dexterity": number, "constitution": number, "intelligence": number, "wisdom": number, "charisma": number}}`,
	"location-generator": `Create a location. Fields:
{"description": string, "environment": {"timeOfDay": string, "weather": string, "ambientSounds": [string], "lightLevel": number}}`,
	"adventure.generate": `Create an adventure. Fields:
{"name": string, "description": string,
 "storyArcs": [{"name": string, "description": string, "chapters": [string]}],
 "questChains": [{"name": string, "quests": [string], "rewards": [string]}],
 "educationalObjectives": [string], "gmNotes": string}`,
	"scene.terrain": `Describe terrain for a map. Fields:
{"description": string, "features": [string], "mapData": {"elevation": string, "waterSources": [string], "pointsOfInterest": [string]}}`,
	"world-history-generator": `Write a world history. Fields:
{"timeline": string, "geography": string, "cultures": string, "majorEvents": [string]}`,
	"monster-generator": `Create a monster. Fields:
{"name": string, "stats": {"health": number, "attack": number, "defense": number, "speed": number}, "abilities": [string], "description": string}`,
	"mission-generator": `Create a mission. Fields:
{"title": string, "objectives": [string], "rewards": [string], "description": string, "difficulty": "easy"|"medium"|"hard"}`,
	"object-generator": `Create an item. Fields:
{"name": string, "properties": [string], "description": string, "value": number, "rarity": "common"|"uncommon"|"rare"|"epic"|"legendary"}`,
	"map-generator": `Design a map. Fields:
{"name": string, "layout": string, "features": [string], "description": string}`,
}

// aliases lets the backend serve operations routed under their
// multi-service names.
var aliases = map[string]string{
	"character.create": "npc-generator",
	"scene.create":     "location-generator",
	"adventure.create": "adventure.generate",
	"scene.generate":   "scene.terrain",
	"terrain.generate": "scene.terrain",
	"world-history":    "world-history-generator",
	"monster":          "monster-generator",
	"mission":          "mission-generator",
	"object":           "object-generator",
	"map":              "map-generator",
}

func canonical(operation string) string {
	op := strings.ToLower(strings.TrimSpace(operation))
	if a, ok := aliases[op]; ok {
		return a
	}
	return op
}

// Supports reports whether the LLM backend can serve operation.
func Supports(operation string) bool {
	_, ok := schemas[canonical(operation)]
	return ok
}

func systemPrompt(operation string) string {
	return basePrompt + "\n\n" + schemas[canonical(operation)]
}
