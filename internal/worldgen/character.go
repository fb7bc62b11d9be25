package worldgen

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"
)

// Expertise levels accepted for NPC knowledge.
var expertiseLevels = []string{"novice", "intermediate", "expert", "master"}

const defaultAlignment = "Neutral Good"

// GenerateNPC generates a non-player character, optionally with a portrait
// and a voice.
func (o *Orchestrator) GenerateNPC(ctx context.Context, req NPCRequest) Response[GeneratedNPC] {
	r := &req
	return execute(ctx, o, r, func(ctx context.Context) (*GeneratedNPC, *ResponseMetadata, error) {
		label := r.Race + " " + r.Occupation
		res, err := o.primary(ctx, string(KindNPC), map[string]string{
			"npcType": label,
			"prompt":  npcPrompt(r),
		})
		if err != nil {
			return nil, nil, err
		}

		d := res.data
		npc := &GeneratedNPC{
			ID:                 o.newID(idPrefix[KindNPC]),
			Name:               text(d.Get("name"), label),
			Race:               r.Race,
			Occupation:         r.Occupation,
			Personality:        parsePersonality(d.Get("personality"), r.Personality),
			Backstory:          text(d.Get("backstory"), r.Background),
			Knowledge:          parseKnowledge(r.KnowledgeAreas, d.Get("knowledge")),
			DialogueTree:       []any{},
			Relationships:      []any{},
			Stats:              object(d.Get("stats")),
			AIGenerated:        true,
			GenerationMetadata: o.stamp(label),
		}
		if npc.Stats == nil {
			npc.Stats = map[string]any{}
		}

		var jobs []enrichment
		if r.IncludePortrait {
			jobs = append(jobs, enrichment{
				asset:   "portrait",
				route:   RoutePortrait,
				payload: map[string]string{"prompt": portraitPrompt(r), "name": npc.Name},
				field:   "imageUrl",
				dst:     &npc.ImageURL,
			})
		}
		if r.IncludeVoice {
			jobs = append(jobs, enrichment{
				asset: "voice",
				route: RouteVoice,
				payload: map[string]string{
					"race":        r.Race,
					"personality": r.Personality,
					"occupation":  r.Occupation,
				},
				field: "voiceId",
				dst:   &npc.VoiceID,
			})
		}
		o.enrich(ctx, KindNPC, jobs...)
		return npc, res.metadata(), nil
	})
}

// parsePersonality accepts either a structured personality object or free
// text, falling back to the requested personality.
func parsePersonality(r gjson.Result, requested string) Personality {
	if r.IsObject() {
		p := Personality{
			Traits:      stringList(r.Get("traits")),
			Motivations: stringList(r.Get("motivations")),
			Fears:       stringList(r.Get("fears")),
			Secrets:     stringList(r.Get("secrets")),
			Alignment:   text(r.Get("alignment"), defaultAlignment),
			Ideals:      stringList(r.Get("ideals")),
			Bonds:       stringList(r.Get("bonds")),
			Flaws:       stringList(r.Get("flaws")),
			Mannerisms:  stringList(r.Get("mannerisms")),
		}
		if len(p.Traits) == 0 && requested != "" {
			p.Traits = splitTraits(requested)
		}
		return p
	}

	s := text(r, requested)
	return Personality{
		Traits:      splitTraits(s),
		Motivations: []string{},
		Fears:       []string{},
		Secrets:     []string{},
		Alignment:   defaultAlignment,
		Ideals:      []string{s},
		Bonds:       []string{},
		Flaws:       []string{},
		Mannerisms:  []string{},
	}
}

func splitTraits(s string) []string {
	out := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKnowledge builds one entry per requested area. Facts come from k,
// which may map areas to fact lists or list {topic, expertise, facts}
// objects. Topics in such a list that were not requested are appended.
func parseKnowledge(areas []string, k gjson.Result) []Knowledge {
	out := make([]Knowledge, 0, len(areas))
	seen := make(map[string]bool, len(areas))
	for _, area := range areas {
		seen[strings.ToLower(area)] = true
		kn := Knowledge{Topic: area, Expertise: "intermediate", Facts: []string{}}
		k.ForEach(func(key, v gjson.Result) bool {
			switch {
			case k.IsObject() && strings.EqualFold(key.String(), area):
				kn.Facts = stringList(v)
			case k.IsArray() && strings.EqualFold(v.Get("topic").String(), area):
				kn.Facts = stringList(v.Get("facts"))
				kn.Expertise = oneOf(v.Get("expertise"), expertiseLevels, "intermediate")
			default:
				return true
			}
			return false
		})
		out = append(out, kn)
	}

	if k.IsArray() {
		k.ForEach(func(_, v gjson.Result) bool {
			topic := strings.TrimSpace(v.Get("topic").String())
			if topic == "" || seen[strings.ToLower(topic)] {
				return true
			}
			seen[strings.ToLower(topic)] = true
			out = append(out, Knowledge{
				Topic:     topic,
				Expertise: oneOf(v.Get("expertise"), expertiseLevels, "intermediate"),
				Facts:     stringList(v.Get("facts")),
			})
			return true
		})
	}
	return out
}
