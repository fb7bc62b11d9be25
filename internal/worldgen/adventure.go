package worldgen

import (
	"context"

	"github.com/tidwall/gjson"
)

// GenerateAdventure generates an adventure campaign, optionally with a
// cover image.
func (o *Orchestrator) GenerateAdventure(ctx context.Context, req AdventureRequest) Response[GeneratedAdventure] {
	r := &req
	return execute(ctx, o, r, func(ctx context.Context) (*GeneratedAdventure, *ResponseMetadata, error) {
		prompt := adventurePrompt(r)
		res, err := o.primary(ctx, string(KindAdventure), map[string]string{"prompt": prompt})
		if err != nil {
			return nil, nil, err
		}

		d := res.data
		objectives := values(d.Get("educationalObjectives"))
		if len(objectives) == 0 {
			objectives = r.EducationalObjectives
		}
		adv := &GeneratedAdventure{
			ID:                    o.newID(idPrefix[KindAdventure]),
			WorldID:               r.WorldID,
			Name:                  r.Title,
			Description:           text(d.Get("description"), r.Description),
			StoryArcs:             o.parseStoryArcs(d.Get("storyArcs")),
			QuestChains:           o.parseQuestChains(d.Get("questChains")),
			EducationalObjectives: objectives,
			Sessions:              []any{},
			GMNotes:               text(d.Get("gmNotes"), ""),
			AIGenerated:           true,
			GenerationMetadata:    o.stamp(prompt),
		}

		if r.IncludeImage {
			o.enrich(ctx, KindAdventure, enrichment{
				asset:   "cover-image",
				route:   RouteSceneImage,
				payload: map[string]string{"prompt": adventureImagePrompt(r)},
				field:   "imageUrl",
				dst:     &adv.ImageURL,
			})
		}
		return adv, res.metadata(), nil
	})
}

func (o *Orchestrator) parseStoryArcs(r gjson.Result) []StoryArc {
	arcs := []StoryArc{}
	if !r.IsArray() {
		return arcs
	}
	r.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		arcs = append(arcs, StoryArc{
			ID:          o.newID("arc"),
			Name:        text(v.Get("name"), "Untitled Arc"),
			Description: text(v.Get("description"), ""),
			Chapters:    values(v.Get("chapters")),
			Status:      "planned",
		})
		return true
	})
	return arcs
}

func (o *Orchestrator) parseQuestChains(r gjson.Result) []QuestChain {
	chains := []QuestChain{}
	if !r.IsArray() {
		return chains
	}
	r.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		chains = append(chains, QuestChain{
			ID:      o.newID("chain"),
			Name:    text(v.Get("name"), "Untitled Quest Chain"),
			Quests:  values(v.Get("quests")),
			Rewards: values(v.Get("rewards")),
		})
		return true
	})
	return chains
}
