package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/SupportPipe/internal/models"
)

// marshalFailure is written when a response body cannot be encoded.
var marshalFailure = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// respond writes result in the success envelope.
func respond(w http.ResponseWriter, status int, result any) {
	writeEnvelope(w, status, models.Success(result))
}

// fail writes message in the error envelope.
func fail(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, models.Error(message))
}

// writeEnvelope encodes before touching headers so an encoding failure can
// still become a 500.
func writeEnvelope(w http.ResponseWriter, status int, env models.APIResponse) {
	body, err := json.Marshal(env)
	if err != nil {
		slog.Error("api.writeEnvelope: failed to encode response", "error", err, "status", status)
		body, status = marshalFailure, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Debug("api.writeEnvelope: client went away", "error", err)
	}
}
