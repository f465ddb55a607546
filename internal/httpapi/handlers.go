package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/blockrun/blockrunproxy/internal/selector"
)

// HealthHandler reports liveness plus the wallet address attached to
// outbound payment attestations, so an operator can confirm which wallet a
// deployment is signing with.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok"}
		if d.Signer != nil {
			resp["wallet"] = d.Signer.Address()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type modelInfo struct {
	ID              string  `json:"id"`
	InputPricePerM  float64 `json:"input_price_per_m"`
	OutputPricePerM float64 `json:"output_price_per_m"`
	ContextWindow   int     `json:"context_window,omitempty"`
}

// ModelsHandler lists every model referenced by the catalog's tier tables,
// deduplicated, with its pricing and known context window.
func ModelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if d.Catalog == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []modelInfo{}})
			return
		}

		seen := make(map[selector.ModelID]bool)
		var ids []selector.ModelID
		collect := func(set selector.TierSet) {
			for _, cfg := range set {
				for _, m := range cfg.Chain() {
					if m == "" || seen[m] {
						continue
					}
					seen[m] = true
					ids = append(ids, m)
				}
			}
		}
		collect(d.Catalog.Default)
		collect(d.Catalog.Eco)
		collect(d.Catalog.Premium)
		collect(d.Catalog.Agentic)

		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		models := make([]modelInfo, 0, len(ids))
		for _, id := range ids {
			p := d.Catalog.Pricing[id]
			models = append(models, modelInfo{
				ID:              string(id),
				InputPricePerM:  p.InputPricePerM,
				OutputPricePerM: p.OutputPricePerM,
				ContextWindow:   d.Catalog.ContextWindow[id],
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	}
}
