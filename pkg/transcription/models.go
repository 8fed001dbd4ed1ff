package transcription

import (
	"context"
	"log"
	"sort"

	"github.com/audioscribe/pipeline/pkg/apperr"
)

const modelsPageSize = 100

// ListModels returns every non-deprecated model of kind, sorted by locale
// then name. Base models are collapsed to the most recently created one
// per locale.
func (c *Client) ListModels(ctx context.Context, kind ModelKind) ([]Model, error) {
	if kind != ModelsBase && kind != ModelsCustom {
		return nil, apperr.Validation("kind", "unknown model kind %q", kind)
	}

	now := c.now().UTC()
	var models []Model
	total := 0

	for skip := 0; ; skip += modelsPageSize {
		endpoint, err := c.endpoint("/models/"+string(kind), pageParams{APIVersion: APIVersion, Skip: skip, Top: modelsPageSize})
		if err != nil {
			return nil, err
		}

		var page modelList
		if err := c.getJSON(ctx, "list models", endpoint, true, &page); err != nil {
			return nil, err
		}
		if len(page.Values) == 0 {
			break
		}
		total += len(page.Values)

		for _, m := range page.Values {
			deprecated, err := m.Deprecated(now)
			if err != nil {
				log.Printf("    [!] Could not parse deprecation date of model %s: %v\n", m.DisplayName, err)
			}
			if deprecated {
				continue
			}
			models = append(models, m)
		}

		if page.NextLink == "" {
			break
		}
	}

	if kind == ModelsBase {
		models = latestPerLocale(models)
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].Locale != models[j].Locale {
			return models[i].Locale < models[j].Locale
		}
		return models[i].DisplayName < models[j].DisplayName
	})

	log.Printf("    [✓] Retrieved %d usable %s models out of %d\n", len(models), kind, total)
	return models, nil
}

func latestPerLocale(models []Model) []Model {
	latest := make(map[string]Model, len(models))
	for _, m := range models {
		cur, ok := latest[m.Locale]
		if !ok || m.created().After(cur.created()) {
			latest[m.Locale] = m
		}
	}

	out := make([]Model, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	return out
}

