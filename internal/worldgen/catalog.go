package worldgen

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// The catalogue types share one shape: a type field, a free prompt and a
// language. Their request is sent to the backend as is.

var defaultMonsterStats = MonsterStats{Health: 100, Attack: 20, Defense: 15, Speed: 10}

// GenerateWorldHistory generates the history of a world.
func (o *Orchestrator) GenerateWorldHistory(ctx context.Context, req WorldHistoryRequest) Response[GeneratedWorldHistory] {
	r := &req
	return execute(ctx, o, r, func(ctx context.Context) (*GeneratedWorldHistory, *ResponseMetadata, error) {
		res, err := o.primary(ctx, string(KindWorldHistory), r)
		if err != nil {
			return nil, nil, err
		}
		d := res.data
		return &GeneratedWorldHistory{
			ID:                 o.newID(idPrefix[KindWorldHistory]),
			WorldName:          text(d.Get("worldName"), r.WorldName),
			Timeline:           text(d.Get("timeline"), "Ancient times to present"),
			Geography:          text(d.Get("geography"), "Diverse landscapes"),
			Cultures:           text(d.Get("cultures"), "Rich cultural diversity"),
			MajorEvents:        stringList(d.Get("majorEvents")),
			AIGenerated:        true,
			GenerationMetadata: o.stamp(r.Prompt),
		}, res.metadata(), nil
	})
}

// GenerateMonster generates a monster.
func (o *Orchestrator) GenerateMonster(ctx context.Context, req MonsterRequest) Response[GeneratedMonster] {
	r := &req
	return execute(ctx, o, r, func(ctx context.Context) (*GeneratedMonster, *ResponseMetadata, error) {
		res, err := o.primary(ctx, string(KindMonster), r)
		if err != nil {
			return nil, nil, err
		}
		d := res.data
		return &GeneratedMonster{
			ID:                 o.newID(idPrefix[KindMonster]),
			Name:               text(d.Get("name"), "Generated "+r.MonsterType),
			Type:               r.MonsterType,
			Stats:              parseMonsterStats(d.Get("stats")),
			Abilities:          stringList(d.Get("abilities")),
			Description:        text(d.Get("description"), fmt.Sprintf("A %s creature", r.MonsterType)),
			AIGenerated:        true,
			GenerationMetadata: o.stamp(r.Prompt),
		}, res.metadata(), nil
	})
}

// parseMonsterStats falls back per field, so a partial stat block keeps
// the values it has.
func parseMonsterStats(r gjson.Result) MonsterStats {
	def := defaultMonsterStats
	if !r.IsObject() {
		return def
	}
	return MonsterStats{
		Health:  integer(r.Get("health"), def.Health),
		Attack:  integer(r.Get("attack"), def.Attack),
		Defense: integer(r.Get("defense"), def.Defense),
		Speed:   integer(r.Get("speed"), def.Speed),
	}
}

// GenerateMission generates a mission.
func (o *Orchestrator) GenerateMission(ctx context.Context, req MissionRequest) Response[GeneratedMission] {
	r := &req
	return execute(ctx, o, r, func(ctx context.Context) (*GeneratedMission, *ResponseMetadata, error) {
		res, err := o.primary(ctx, string(KindMission), r)
		if err != nil {
			return nil, nil, err
		}
		d := res.data
		return &GeneratedMission{
			ID:                 o.newID(idPrefix[KindMission]),
			Title:              text(d.Get("title"), fmt.Sprintf("Generated %s Mission", r.MissionType)),
			Type:               r.MissionType,
			Objectives:         stringList(d.Get("objectives")),
			Rewards:            stringList(d.Get("rewards")),
			Description:        text(d.Get("description"), fmt.Sprintf("A %s mission", r.MissionType)),
			Difficulty:         oneOf(d.Get("difficulty"), Difficulties, "medium"),
			AIGenerated:        true,
			GenerationMetadata: o.stamp(r.Prompt),
		}, res.metadata(), nil
	})
}

// GenerateObject generates an item.
func (o *Orchestrator) GenerateObject(ctx context.Context, req ObjectRequest) Response[GeneratedObject] {
	r := &req
	return execute(ctx, o, r, func(ctx context.Context) (*GeneratedObject, *ResponseMetadata, error) {
		res, err := o.primary(ctx, string(KindObject), r)
		if err != nil {
			return nil, nil, err
		}
		d := res.data
		var value float64
		if v := d.Get("value"); v.Type == gjson.Number && v.Float() > 0 {
			value = v.Float()
		}
		return &GeneratedObject{
			ID:                 o.newID(idPrefix[KindObject]),
			Name:               text(d.Get("name"), "Generated "+r.ObjectType),
			Type:               r.ObjectType,
			Properties:         stringList(d.Get("properties")),
			Description:        text(d.Get("description"), fmt.Sprintf("A %s object", r.ObjectType)),
			Value:              value,
			Rarity:             oneOf(d.Get("rarity"), Rarities, "common"),
			AIGenerated:        true,
			GenerationMetadata: o.stamp(r.Prompt),
		}, res.metadata(), nil
	})
}

// GenerateMap generates a map layout. No drawing is involved.
func (o *Orchestrator) GenerateMap(ctx context.Context, req MapRequest) Response[GeneratedMap] {
	r := &req
	return execute(ctx, o, r, func(ctx context.Context) (*GeneratedMap, *ResponseMetadata, error) {
		res, err := o.primary(ctx, string(KindMap), r)
		if err != nil {
			return nil, nil, err
		}
		d := res.data
		return &GeneratedMap{
			ID:                 o.newID(idPrefix[KindMap]),
			Name:               text(d.Get("name"), fmt.Sprintf("Generated %s Map", r.MapType)),
			Type:               r.MapType,
			Layout:             text(d.Get("layout"), "Generated layout"),
			Features:           stringList(d.Get("features")),
			Description:        text(d.Get("description"), fmt.Sprintf("A %s map", r.MapType)),
			AIGenerated:        true,
			GenerationMetadata: o.stamp(r.Prompt),
		}, res.metadata(), nil
	})
}
