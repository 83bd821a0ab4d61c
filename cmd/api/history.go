package main

import (
	"net/http"
	"strconv"

	"github.com/farxc/spm-results/internal/response"
	"github.com/farxc/spm-results/internal/store"
)

const maxHistoryLimit = 100

type GetExtractionHistoryResponse = response.APIResponse[[]store.ExtractionRun]

// @Summary		Get extraction history
// @Description	Get the metadata of the latest extraction runs. Credentials and result rows are never stored.
// @Tags			Extractions
// @Produce		json
// @Param			limit	query		int								false	"Limit the number of results"	default(10)
// @Success		200		{object}	GetExtractionHistoryResponse	"Successfully retrieved latest extraction runs"
// @Failure		500		{object}	response.ErrorResponse			"Failed to get extraction history"
// @Failure		503		{object}	response.ErrorResponse			"Run history is disabled"
// @Router			/extractions/history [get]
func (app *application) handleGetExtractionHistory(w http.ResponseWriter, r *http.Request) {
	if app.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	limitParam := r.URL.Query().Get("limit")
	limit := 10
	if limitParam != "" {
		if l, err := strconv.Atoi(limitParam); err == nil && l > 0 {
			limit = min(l, maxHistoryLimit)
		}
	}

	ctx := r.Context()
	data, err := app.store.ExtractionRuns.GetLatest(ctx, limit)
	if err != nil {
		app.requestLogger(r).Error("History", "Failed to get extraction history: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to get extraction history")
		return
	}
	if data == nil {
		data = []store.ExtractionRun{}
	}

	response := &GetExtractionHistoryResponse{
		Success: true,
		Data:    data,
		Message: "Successfully retrieved latest extraction runs",
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
