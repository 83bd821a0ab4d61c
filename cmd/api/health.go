package main

import "net/http"

const version = "1.0.0"

// @Summary		Health check
// @Description	returns the status of the service
// @Tags			Health
// @Produce		json
// @Success		200	{object}	map[string]string
// @Router			/health [get]
func (app *application) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	history := "disabled"
	if app.store != nil {
		history = "enabled"
	}

	data := map[string]string{
		"status":  "available",
		"version": version,
		"history": history,
	}

	if err := writeJSON(w, http.StatusOK, data); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
