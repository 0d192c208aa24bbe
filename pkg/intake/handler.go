package intake

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

type handler struct {
	manager Manager
	log     zerolog.Logger
}

// startTask implements POST /tasks.
func (h *handler) startTask(w http.ResponseWriter, r *http.Request) {
	var req startTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, startTaskResponse{Message: "malformed JSON body: " + err.Error()})
		return
	}

	if err := validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, startTaskResponse{Message: "invalid request: " + err.Error()})
		return
	}

	input, err := req.taskInput()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, startTaskResponse{Message: err.Error()})
		return
	}

	taskID, err := h.manager.StartTask(r.Context(), req.ScenarioID, input)
	if err != nil {
		h.log.Warn().Err(err).Str("scenario_id", req.ScenarioID).Msg("start_task rejected")
		writeJSON(w, http.StatusUnprocessableEntity, startTaskResponse{Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, startTaskResponse{OK: true, TaskID: taskID, Message: "task started"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
