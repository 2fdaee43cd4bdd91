// Emulates a gas-station fee API for local runs of the relayer against
// devnets, where the public estimation services are unreachable.
package main

import (
	"encoding/json"
	mathrand "math/rand"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
)

type feeTier struct {
	MaxFee         float64 `json:"maxFee"`
	MaxPriorityFee float64 `json:"maxPriorityFee"`
}

type feeResponse struct {
	SafeLow  feeTier `json:"safeLow"`
	Standard feeTier `json:"standard"`
	Fast     feeTier `json:"fast"`
}

func main() {
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8099"
	}

	http.HandleFunc("/v2", func(w http.ResponseWriter, r *http.Request) {
		// Jittered values in gwei, fast tier always the highest
		base := 25.0 + mathrand.Float64()*20.0
		tip := 1.0 + mathrand.Float64()*2.0
		resp := feeResponse{
			SafeLow:  feeTier{MaxFee: base, MaxPriorityFee: tip},
			Standard: feeTier{MaxFee: base * 1.2, MaxPriorityFee: tip * 1.5},
			Fast:     feeTier{MaxFee: base * 1.5, MaxPriorityFee: tip * 2.0},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error().Err(err).Msg("failed to encode fee response")
		}
	})

	log.Info().Str("listen_addr", listenAddr).Msg("fee API emulator listening")
	if err := http.ListenAndServe(listenAddr, nil); err != nil {
		log.Fatal().Err(err).Msg("fee API emulator exited")
	}
}
