package worldgen

import (
	"fmt"
	"strings"
)

func npcPrompt(r *NPCRequest) string {
	return fmt.Sprintf("Create a %s %s with personality: %s, background: %s, in setting: %s. Knowledge areas: %s",
		r.Race, r.Occupation, r.Personality, r.Background, r.Setting, strings.Join(r.KnowledgeAreas, ", "))
}

func portraitPrompt(r *NPCRequest) string {
	return fmt.Sprintf("Portrait of a %s %s, %s, fantasy style", r.Race, r.Occupation, r.Personality)
}

func locationPrompt(r *LocationRequest) string {
	return fmt.Sprintf("Create location %q: %s. Atmosphere: %s", r.Name, r.Description, r.Atmosphere)
}

func locationImagePrompt(r *LocationRequest) string {
	return fmt.Sprintf("%s, %s, %s, %s, %s style", r.Name, r.Type, r.Atmosphere, r.Mood, r.Style)
}

func adventurePrompt(r *AdventureRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create an adventure titled %q:\n", r.Title)
	fmt.Fprintf(&b, "- Description: %s\n", r.Description)
	fmt.Fprintf(&b, "- Genre: %s\n", r.Genre)
	fmt.Fprintf(&b, "- Theme: %s\n", r.Theme)
	fmt.Fprintf(&b, "- Difficulty: %s\n", r.Difficulty)
	b.WriteString("\nPlease provide story arcs, quest chains, and educational objectives.")
	return b.String()
}

func adventureImagePrompt(r *AdventureRequest) string {
	return fmt.Sprintf("%s, %s adventure, %s, epic fantasy art style", r.Title, r.Genre, r.Theme)
}

func terrainPrompt(r *TerrainRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %s terrain with the following characteristics:\n", r.Biome)
	fmt.Fprintf(&b, "- Size: %s\n", r.Size)
	fmt.Fprintf(&b, "- Climate: %s\n", r.Climate)
	fmt.Fprintf(&b, "- Features: %s\n", strings.Join(r.Features, ", "))
	b.WriteString("\nPlease provide detailed terrain description and geographical features.")
	return b.String()
}

func terrainImagePrompt(r *TerrainRequest) string {
	return fmt.Sprintf("%s terrain, %s climate, %s, aerial view, fantasy map style",
		r.Biome, r.Climate, strings.Join(r.Features, ", "))
}
