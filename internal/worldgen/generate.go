package worldgen

import (
	"context"
	"fmt"
)

// Generate dispatches req to the generator for its content type.
func (o *Orchestrator) Generate(ctx context.Context, req Request) Response[any] {
	switch r := req.(type) {
	case *NPCRequest:
		return Erase(o.GenerateNPC(ctx, *r))
	case *LocationRequest:
		return Erase(o.GenerateLocation(ctx, *r))
	case *AdventureRequest:
		return Erase(o.GenerateAdventure(ctx, *r))
	case *TerrainRequest:
		return Erase(o.GenerateTerrain(ctx, *r))
	case *WorldHistoryRequest:
		return Erase(o.GenerateWorldHistory(ctx, *r))
	case *MonsterRequest:
		return Erase(o.GenerateMonster(ctx, *r))
	case *MissionRequest:
		return Erase(o.GenerateMission(ctx, *r))
	case *ObjectRequest:
		return Erase(o.GenerateObject(ctx, *r))
	case *MapRequest:
		return Erase(o.GenerateMap(ctx, *r))
	}
	return Response[any]{Success: false, Error: fmt.Sprintf("unsupported request type %T", req)}
}

// GenerateRaw normalises raw for kind and generates it. A request that
// fails normalisation is returned as the error and no backend is called;
// generation failures are reported in the response.
func (o *Orchestrator) GenerateRaw(ctx context.Context, kind ContentType, raw map[string]any) (Response[any], error) {
	req, err := Normalize(kind, raw)
	if err != nil {
		o.recordRejected(ctx, kind, err)
		return Response[any]{Success: false, Error: err.Error()}, err
	}
	return o.Generate(ctx, req), nil
}

// stamp builds the generation metadata for a new asset.
func (o *Orchestrator) stamp(prompt string) GenerationMetadata {
	return GenerationMetadata{Prompt: prompt, Version: AssetVersion, Timestamp: o.now().UTC()}
}

func (a GeneratedNPC) assetID() string    { return a.ID }
func (a GeneratedNPC) assetTitle() string { return a.Name }

func (a GeneratedLocation) assetID() string    { return a.ID }
func (a GeneratedLocation) assetTitle() string { return a.Name }

func (a GeneratedAdventure) assetID() string    { return a.ID }
func (a GeneratedAdventure) assetTitle() string { return a.Name }

func (a GeneratedTerrain) assetID() string    { return a.ID }
func (a GeneratedTerrain) assetTitle() string { return a.Biome + " terrain" }

func (a GeneratedWorldHistory) assetID() string    { return a.ID }
func (a GeneratedWorldHistory) assetTitle() string { return a.WorldName }

func (a GeneratedMonster) assetID() string    { return a.ID }
func (a GeneratedMonster) assetTitle() string { return a.Name }

func (a GeneratedMission) assetID() string    { return a.ID }
func (a GeneratedMission) assetTitle() string { return a.Title }

func (a GeneratedObject) assetID() string    { return a.ID }
func (a GeneratedObject) assetTitle() string { return a.Name }

func (a GeneratedMap) assetID() string    { return a.ID }
func (a GeneratedMap) assetTitle() string { return a.Name }
