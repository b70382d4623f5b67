package agent

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/Aman-CERP/scenedex/internal/scene"
)

// CharactersAgent extracts the distinct speaking characters of a scene from
// its dialogue cues. Deterministic and local; it needs no reasoning service,
// and it feeds the character-name boost in search.
func CharactersAgent() *Agent {
	return &Agent{
		ID:          "builtin-characters",
		Property:    "characters",
		Description: "Distinct speaking characters, from dialogue cues",
		OutputSchema: &jsonschema.Schema{
			Type:  "array",
			Items: &jsonschema.Schema{Type: "string"},
		},
		Extractor: ExtractorFunc(func(_ context.Context, s *scene.Scene) (json.RawMessage, error) {
			seen := make(map[string]bool)
			var characters []string
			for _, el := range s.Elements {
				if el.Kind != scene.ElementDialogue {
					continue
				}
				name := normalizeCharacter(el.Character)
				if name != "" && !seen[name] {
					seen[name] = true
					characters = append(characters, name)
				}
			}
			sort.Strings(characters)
			if characters == nil {
				characters = []string{}
			}
			return json.Marshal(characters)
		}),
	}
}

// LocationAgent extracts the scene's location and time-of-day from its
// heading, giving search a structured field to boost on.
func LocationAgent() *Agent {
	return &Agent{
		ID:          "builtin-location",
		Property:    "location",
		Description: "Structured location and time-of-day from the heading",
		OutputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"location":    {Type: "string"},
				"time_of_day": {Type: "string"},
			},
			Required: []string{"location"},
		},
		Extractor: ExtractorFunc(func(_ context.Context, s *scene.Scene) (json.RawMessage, error) {
			return json.Marshal(map[string]string{
				"location":    s.Heading.Location,
				"time_of_day": s.Heading.TimeOfDay,
			})
		}),
	}
}

// normalizeCharacter strips cue extensions like (V.O.) or (CONT'D) and
// normalizes case.
func normalizeCharacter(cue string) string {
	if idx := strings.Index(cue, "("); idx >= 0 {
		cue = cue[:idx]
	}
	return strings.ToUpper(strings.TrimSpace(cue))
}
