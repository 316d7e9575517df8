// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"errors"
	"net/http"

	"github.com/yellowcatz/badgegate/internal/store"
)

// CheckHealth handles GET /health -- pings the database and the state ledger.
// Returns 200 if both are usable, 503 if either is down.
// An in-process ledger reports "disabled", which is not a failure.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	ledgerStatus := "ok"

	if err := h.SL.CheckHealth(r.Context()); err != nil {
		if errors.Is(err, store.ErrLedgerDisabled) {
			ledgerStatus = "disabled"
		} else {
			logError(r, "state ledger health check failed", "error", err)
			ledgerStatus = "error"
		}
	}
	if err := h.PS.CheckHealth(r.Context()); err != nil {
		logError(r, "database health check failed", "error", err)
		dbStatus = "error"
	}

	status := http.StatusOK
	if dbStatus == "error" || ledgerStatus == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Database string `json:"database"`
		Ledger   string `json:"ledger"`
	}{dbStatus, ledgerStatus})
}
