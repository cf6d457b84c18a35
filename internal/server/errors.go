package server

import (
	"encoding/json"
	"net/http"

	"studio-board/internal/common"
)

func writeError(w http.ResponseWriter, err error) {
	status, body := common.NewErrorResponse(err)
	if appErr, ok := common.AsAppError(err); ok && appErr.Code == "METHOD_NOT_ALLOWED" {
		status = http.StatusMethodNotAllowed
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
