package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/crashvault/crashvault/internal/apperrors"
)

// envelope is the {"result":...} shape every endpoint in spec §6 responds
// with, success or failure.
type envelope struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func writeOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"result": "ok"}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError translates err into the {"result":"failed","error":"..."}
// envelope (spec §6). An *apperrors.Error carries its own status and a
// user-safe message; anything else is logged in full and answered with a
// generic 500, per spec §7's propagation policy.
func writeError(w http.ResponseWriter, err error) {
	if ae, ok := apperrors.As(err); ok {
		if ae.Err != nil {
			slog.Error("request failed", "kind", ae.Kind, "error", ae.Err)
		}
		writeJSON(w, ae.Status(), envelope{Result: "failed", Error: ae.Message})
		return
	}

	slog.Error("request failed with unclassified error", "error", err)
	writeJSON(w, http.StatusInternalServerError, envelope{Result: "failed", Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("marshal response body", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
