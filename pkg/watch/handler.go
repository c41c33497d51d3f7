package watch

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/httpx"
)

// Handler exposes the watcher's admin surface:
//
//	GET  /healthz  liveness (503 once stopped)
//	GET  /status   full Stats snapshot
//	POST /export   schedule an immediate incremental export on the loop
func (w *Watcher) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", w.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", w.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/export", w.handleExport).Methods(http.MethodPost)
	return r
}

func (w *Watcher) handleHealthz(rw http.ResponseWriter, _ *http.Request) {
	state := w.lifecycle.Current()
	status := http.StatusOK
	if state == StateStopped {
		status = http.StatusServiceUnavailable
	}
	httpx.RespondJSON(rw, status, map[string]string{"status": "ok", "state": state})
}

func (w *Watcher) handleStatus(rw http.ResponseWriter, _ *http.Request) {
	httpx.RespondJSON(rw, http.StatusOK, w.Status())
}

func (w *Watcher) handleExport(rw http.ResponseWriter, _ *http.Request) {
	w.RequestFlush()
	httpx.RespondJSON(rw, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
