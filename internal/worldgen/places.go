package worldgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	timesOfDay = []string{"dawn", "morning", "noon", "afternoon", "dusk", "evening", "night", "midnight"}
	weathers   = []string{"clear", "cloudy", "rain", "storm", "fog", "snow", "wind"}
)

const defaultLightLevel = 75

// GenerateLocation generates a location on a map, optionally with a scene
// image.
func (o *Orchestrator) GenerateLocation(ctx context.Context, req LocationRequest) Response[GeneratedLocation] {
	r := &req
	return execute(ctx, o, r, func(ctx context.Context) (*GeneratedLocation, *ResponseMetadata, error) {
		res, err := o.primary(ctx, string(KindLocation), map[string]string{
			"locationType": r.Type,
			"prompt":       locationPrompt(r),
		})
		if err != nil {
			return nil, nil, err
		}

		d := res.data
		loc := &GeneratedLocation{
			ID:                 o.newID(idPrefix[KindLocation]),
			MapID:              r.MapID,
			Name:               r.Name,
			Type:               r.Type,
			Coordinates:        *r.Coordinates,
			Description:        text(d.Get("description"), r.Description),
			NPCs:               []any{},
			Items:              []any{},
			Quests:             []any{},
			Environment:        parseEnvironment(d.Get("environment"), r.Atmosphere),
			Images:             []string{},
			AIGenerated:        true,
			GenerationMetadata: o.stamp(fmt.Sprintf("%s location: %s", r.Type, r.Name)),
		}

		if r.IncludeImage {
			var image string
			o.enrich(ctx, KindLocation, enrichment{
				asset:   "scene-image",
				route:   RouteSceneImage,
				payload: map[string]string{"prompt": locationImagePrompt(r)},
				field:   "imageUrl",
				dst:     &image,
			})
			if image != "" {
				loc.Images = append(loc.Images, image)
			}
		}
		return loc, res.metadata(), nil
	})
}

// parseEnvironment reads a structured environment object. A plain string
// is taken as an ambient sound, as is the requested atmosphere when nothing
// usable came back.
func parseEnvironment(r gjson.Result, atmosphere string) Environment {
	env := Environment{
		TimeOfDay:     "noon",
		Weather:       "clear",
		AmbientSounds: []string{atmosphere},
		LightLevel:    defaultLightLevel,
	}
	switch {
	case r.IsObject():
		env.TimeOfDay = oneOf(r.Get("timeOfDay"), timesOfDay, env.TimeOfDay)
		env.Weather = oneOf(r.Get("weather"), weathers, env.Weather)
		if sounds := stringList(r.Get("ambientSounds")); len(sounds) > 0 {
			env.AmbientSounds = sounds
		}
		if l := r.Get("lightLevel"); l.Type == gjson.Number {
			env.LightLevel = min(max(int(l.Int()), 0), 100)
		}
	case r.Type == gjson.String && !isPlaceholder(r.String()):
		env.AmbientSounds = []string{strings.TrimSpace(r.String())}
	}
	return env
}

// GenerateTerrain generates a terrain description, optionally with an
// aerial image.
func (o *Orchestrator) GenerateTerrain(ctx context.Context, req TerrainRequest) Response[GeneratedTerrain] {
	r := &req
	return execute(ctx, o, r, func(ctx context.Context) (*GeneratedTerrain, *ResponseMetadata, error) {
		prompt := terrainPrompt(r)
		res, err := o.primary(ctx, string(KindTerrain), map[string]string{"prompt": prompt})
		if err != nil {
			return nil, nil, err
		}

		d := res.data
		features := r.Features
		if len(features) == 0 {
			features = stringList(d.Get("features"))
		}
		terrain := &GeneratedTerrain{
			ID:                 o.newID(idPrefix[KindTerrain]),
			Biome:              r.Biome,
			Size:               strings.ToLower(r.Size),
			Climate:            r.Climate,
			Features:           features,
			Description:        text(d.Get("description"), fmt.Sprintf("A %s terrain in %s climate", r.Biome, r.Climate)),
			MapData:            object(d.Get("mapData")),
			AIGenerated:        true,
			GenerationMetadata: o.stamp(prompt),
		}

		if r.IncludeImage {
			o.enrich(ctx, KindTerrain, enrichment{
				asset:   "scene-image",
				route:   RouteSceneImage,
				payload: map[string]string{"prompt": terrainImagePrompt(r)},
				field:   "imageUrl",
				dst:     &terrain.ImageURL,
			})
		}
		return terrain, res.metadata(), nil
	})
}
