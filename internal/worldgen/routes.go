package worldgen

import (
	"fmt"
	"maps"
	"slices"
)

// Route names. Every content type has a route of the same name; the
// enrichment routes serve derived assets.
const (
	RoutePortrait   = "portrait"
	RouteSceneImage = "scene-image"
	RouteVoice      = "voice"
)

// Route binds a generation step to an operation and the ordered backends
// that may serve it. Backends after the first are fallbacks.
type Route struct {
	Operation string   `yaml:"operation" json:"operation"`
	Backends  []string `yaml:"backends" json:"backends"`
}

// RouteNames lists every route the orchestrator uses.
func RouteNames() []string {
	names := make([]string, 0, len(ContentTypes)+3)
	for _, k := range ContentTypes {
		names = append(names, string(k))
	}
	return append(names, RoutePortrait, RouteSceneImage, RouteVoice)
}

// DefaultRoutes sends character, location and the catalogue types to the
// REST backend and adventures, terrain, images and voices to the direct
// backend.
func DefaultRoutes(direct, rest string) map[string]Route {
	d := []string{direct}
	r := []string{rest}
	return map[string]Route{
		string(KindNPC):          {Operation: "npc-generator", Backends: r},
		string(KindLocation):     {Operation: "location-generator", Backends: r},
		string(KindAdventure):    {Operation: "adventure.generate", Backends: d},
		string(KindTerrain):      {Operation: "scene.terrain", Backends: d},
		string(KindWorldHistory): {Operation: "world-history-generator", Backends: r},
		string(KindMonster):      {Operation: "monster-generator", Backends: r},
		string(KindMission):      {Operation: "mission-generator", Backends: r},
		string(KindObject):       {Operation: "object-generator", Backends: r},
		string(KindMap):          {Operation: "map-generator", Backends: r},
		RoutePortrait:            {Operation: "image.portrait", Backends: d},
		RouteSceneImage:          {Operation: "image.scene", Backends: d},
		RouteVoice:               {Operation: "voice.generate", Backends: d},
	}
}

// ValidateRoutes checks that every route the orchestrator uses is present,
// names an operation and at least one backend, and that every backend it
// names is known.
func ValidateRoutes(routes map[string]Route, known func(string) bool) error {
	for _, name := range RouteNames() {
		rt, ok := routes[name]
		if !ok {
			return fmt.Errorf("worldgen: route %q not configured", name)
		}
		if rt.Operation == "" {
			return fmt.Errorf("worldgen: route %q has no operation", name)
		}
		if len(rt.Backends) == 0 {
			return fmt.Errorf("worldgen: route %q has no backends", name)
		}
		for _, b := range rt.Backends {
			if known != nil && !known(b) {
				return fmt.Errorf("worldgen: route %q names unknown backend %q", name, b)
			}
		}
	}
	return nil
}

// BackendsInUse returns the sorted set of backend names referenced by
// routes.
func BackendsInUse(routes map[string]Route) []string {
	set := make(map[string]bool)
	for _, rt := range routes {
		for _, b := range rt.Backends {
			set[b] = true
		}
	}
	return slices.Sorted(maps.Keys(set))
}
