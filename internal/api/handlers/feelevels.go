package handlers

import (
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
)

// feeLevelTargets are the confirmation targets (in blocks) quoted by
// GET /feelevels, matching the priority tiers a copayer picks from when
// building a tx proposal (urgent/priority/normal/economy).
var feeLevelTargets = []int{2, 6, 12, 24}

type feeLevel struct {
	Level       string  `json:"level"`
	NbBlocks    int     `json:"nbBlocks"`
	FeePerKb    int64   `json:"feePerKb"`
}

var feeLevelNames = map[int]string{
	2:  "urgent",
	6:  "priority",
	12: "normal",
	24: "economy",
}

// FeeLevels handles GET /feelevels, unauthenticated per §6 — it exposes no
// wallet-specific data.
func FeeLevels(cache *explorer.FeeLevelCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		levels := make([]feeLevel, 0, len(feeLevelTargets))
		for _, target := range feeLevelTargets {
			satPerByte, err := cache.Get(r.Context(), target)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			levels = append(levels, feeLevel{
				Level:    feeLevelNames[target],
				NbBlocks: target,
				FeePerKb: int64(satPerByte * 1000),
			})
		}
		writeJSON(w, http.StatusOK, levels)
	}
}
