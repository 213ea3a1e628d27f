package ui

import (
	"fmt"
	"net/http"
	"time"

	"github.com/commonscal/commonscal/internal/http/errors"
	"github.com/commonscal/commonscal/internal/metrics"
)

// AdminPurge runs the retention purge on demand. The router restricts it
// to staff.
func (h *Handler) AdminPurge(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().AddDate(0, 0, -h.cfg.Retention.Days)
	removed, err := h.store.PurgeSoftDeleted(r.Context(), cutoff)
	if err != nil {
		errors.InternalError(w, r, err, "retention purge")
		return
	}
	metrics.RecordPurge(removed)
	errors.LogInfo(r, fmt.Sprintf("retention purge removed %d events", removed))

	h.redirect(w, r, h.localePath(r, "/dashboard"),
		map[string]string{"status": fmt.Sprintf("Purged %d deleted events.", removed)})
}
