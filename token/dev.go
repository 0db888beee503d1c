package token

import (
	"net/http"

	"github.com/GeeoIO/geeo-server/logger"
)

// DevHandler serves `GET /api/dev/token?agId=<id>&viewId=<id>` and
// returns a bearer token granting all capabilities for the given ids.
// It exists for local development only and must stay disabled in
// production deployments (`geeo.http.devRoutes`).
func DevHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agentID := r.URL.Query().Get("agId")
		viewID := r.URL.Query().Get("viewId")

		tok, err := m.Issue(agentID, viewID, []string{CapAgent, CapView, CapPOI, CapBeacon})
		if err != nil {
			logger.Errorf("dev token issue failed: %s", err)
			http.Error(w, "token issue failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write([]byte(tok)); err != nil {
			logger.Debugf("dev token write: %s", err)
		}
	}
}
