package api

import (
	"net/http"
	"time"

	"github.com/kjannette/bitmage-backend/internal/db"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	// Database is one of db.StatusDisabled, StatusConnected or StatusDisconnected.
	Database     string `json:"database"`
	PriceSession string `json:"priceSession"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Services: healthServices{
			Database:     db.Status(r.Context(), s.pool),
			PriceSession: s.game.Engine().State().SessionDate,
		},
	})
}
