package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/farxc/spm-results/internal/incentive"
	"github.com/farxc/spm-results/internal/incentive/export"
	"github.com/farxc/spm-results/internal/incentive/types"
	"github.com/farxc/spm-results/internal/logger"
	"github.com/farxc/spm-results/internal/response"
	"github.com/farxc/spm-results/internal/store"
	"github.com/go-chi/chi/v5/middleware"
)

type ResultData struct {
	RunID         string               `json:"run_id"`
	Columns       []string             `json:"columns"`
	Total         int                  `json:"total"`
	Rows          []types.Row          `json:"rows"`
	MissingFields []types.MissingField `json:"missing_fields"`
}

type GetResultsResponse = response.APIResponse[ResultData]

type resultsRequest struct {
	types.Query
	Encoding string `json:"encoding,omitempty"`
}

// statusFor maps an extraction failure to the status returned to the caller.
func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindInvalidInput:
		return http.StatusBadRequest
	case types.KindUnauthorized:
		return http.StatusUnauthorized
	case types.KindUpstreamStatus, types.KindMalformed:
		return http.StatusBadGateway
	case types.KindUnavailable:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (app *application) requestLogger(r *http.Request) *logger.Logger {
	return app.appLogger.With("request_id", middleware.GetReqID(r.Context()))
}

// runExtraction runs the pipeline and logs the outcome against the request id.
func (app *application) runExtraction(r *http.Request, q types.Query, trigger string) (*incentive.Result, error) {
	const component = "Results"
	reqLogger := app.requestLogger(r)

	result, err := app.pipeline.Run(r.Context(), q, trigger)
	if err != nil {
		reqLogger.Warn(component, "Extraction failed: trigger=%s kind=%s", trigger, types.KindOf(err))
		return nil, err
	}
	reqLogger.Info(component, "Extraction finished: trigger=%s run_id=%s rows=%d", trigger, result.RunID, len(result.Rows))
	return result, nil
}

func queryFromForm(r *http.Request) (types.Query, error) {
	if err := r.ParseForm(); err != nil {
		return types.Query{}, err
	}
	return types.Query{
		TenantName: r.PostFormValue("tenant_name"),
		Username:   r.PostFormValue("username"),
		Password:   r.PostFormValue("password"),
		PayeeID:    r.PostFormValue("payee_id"),
		Month:      r.PostFormValue("month"),
	}, nil
}

func csvFilename(runID string) string {
	return "results_" + runID + ".csv"
}

// renderCSV buffers the export so a failure can still be reported with a proper status.
func renderCSV(w http.ResponseWriter, result *incentive.Result, encodingName string) error {
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, result.Frame, encodingName); err != nil {
		return err
	}

	w.Header().Set("Content-Type", export.ContentType(encodingName))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", csvFilename(result.RunID)))
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(buf.Bytes())
	return err
}

// @Summary		Get incentive results
// @Description	Queries the five result collections for one payee and month and returns the normalized table.
// @Tags			Results
// @Accept			json
// @Produce		json
// @Param			query	body		object{tenant_name:string,username:string,password:string,payee_id:string,month:string}	true	"Tenant credentials and query"
// @Success		200		{object}	GetResultsResponse		"Results extracted"
// @Failure		400		{object}	response.ErrorResponse	"Invalid request payload or missing fields"
// @Failure		401		{object}	response.ErrorResponse	"Invalid credentials"
// @Failure		502		{object}	response.ErrorResponse	"Upstream error"
// @Failure		504		{object}	response.ErrorResponse	"Upstream unavailable"
// @Router			/results [post]
func (app *application) handleGetResults(w http.ResponseWriter, r *http.Request) {
	var input resultsRequest
	if err := readJSON(w, r, &input); err != nil {
		writeJSONKindError(w, http.StatusBadRequest, string(types.KindInvalidInput), "invalid request payload")
		return
	}

	result, err := app.runExtraction(r, input.Query, store.TriggerTypeAPI)
	if err != nil {
		kind := types.KindOf(err)
		writeJSONKindError(w, statusFor(kind), string(kind), types.UserMessage(err))
		return
	}

	message := "Successfully extracted results"
	if result.Empty() {
		message = "No matching records"
	}

	response := &GetResultsResponse{
		Success: true,
		Message: message,
		Data: ResultData{
			RunID:         result.RunID,
			Columns:       types.Columns,
			Total:         len(result.Rows),
			Rows:          result.Rows,
			MissingFields: result.Missing,
		},
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		app.requestLogger(r).Error("Results", "Failed to write response: %v", err)
	}
}

// @Summary		Export incentive results as CSV
// @Description	Same as /results but returns the table as CSV. encoding is utf-8 (default), windows-1252 or iso-8859-1.
// @Tags			Results
// @Accept			json
// @Produce		text/csv
// @Param			query	body		object{tenant_name:string,username:string,password:string,payee_id:string,month:string,encoding:string}	true	"Tenant credentials, query and encoding"
// @Success		200		{string}	string					"CSV file"
// @Failure		400		{object}	response.ErrorResponse	"Invalid request payload, missing fields or unknown encoding"
// @Failure		401		{object}	response.ErrorResponse	"Invalid credentials"
// @Failure		502		{object}	response.ErrorResponse	"Upstream error"
// @Failure		504		{object}	response.ErrorResponse	"Upstream unavailable"
// @Router			/results/csv [post]
func (app *application) handleGetResultsCSV(w http.ResponseWriter, r *http.Request) {
	var input resultsRequest
	if err := readJSON(w, r, &input); err != nil {
		writeJSONKindError(w, http.StatusBadRequest, string(types.KindInvalidInput), "invalid request payload")
		return
	}
	if _, _, err := export.Charset(input.Encoding); err != nil {
		writeJSONKindError(w, http.StatusBadRequest, string(types.KindInvalidInput), err.Error())
		return
	}

	result, err := app.runExtraction(r, input.Query, store.TriggerTypeAPI)
	if err != nil {
		kind := types.KindOf(err)
		writeJSONKindError(w, statusFor(kind), string(kind), types.UserMessage(err))
		return
	}

	if err := renderCSV(w, result, input.Encoding); err != nil {
		app.requestLogger(r).Error("Results", "Failed to export csv: run_id=%s error=%v", result.RunID, err)
		writeJSONError(w, http.StatusInternalServerError, "failed to export csv")
	}
}

func (app *application) handleForm(w http.ResponseWriter, r *http.Request) {
	app.renderPage(w, r, http.StatusOK, app.newPageData(types.Query{}))
}

func (app *application) handleResultsPage(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromForm(r)
	if err != nil {
		data := app.newPageData(q)
		data.Error = "Invalid form submission."
		app.renderPage(w, r, http.StatusBadRequest, data)
		return
	}

	data := app.newPageData(q)
	result, err := app.runExtraction(r, q, store.TriggerTypeWeb)
	if err != nil {
		data.Error = types.UserMessage(err)
		app.renderPage(w, r, statusFor(types.KindOf(err)), data)
		return
	}

	// The select only offers supported encodings; anything else exports as UTF-8.
	_, encodingName, err := export.Charset(r.PostFormValue("encoding"))
	if err != nil {
		encodingName = export.EncodingUTF8
	}
	data.Form.Encoding = encodingName

	view, err := newResultView(result, encodingName)
	if err != nil {
		app.requestLogger(r).Error("Results", "Failed to prepare csv export: run_id=%s error=%v", result.RunID, err)
		data.Error = "Failed to prepare the CSV export."
		app.renderPage(w, r, http.StatusInternalServerError, data)
		return
	}
	data.Result = view
	app.renderPage(w, r, http.StatusOK, data)
}

func (app *application) handleResultsCSVForm(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromForm(r)
	if err != nil {
		data := app.newPageData(q)
		data.Error = "Invalid form submission."
		app.renderPage(w, r, http.StatusBadRequest, data)
		return
	}

	encodingName := r.PostFormValue("encoding")
	if _, _, err := export.Charset(encodingName); err != nil {
		data := app.newPageData(q)
		data.Error = fmt.Sprintf("Unsupported encoding %q.", encodingName)
		app.renderPage(w, r, http.StatusBadRequest, data)
		return
	}

	result, err := app.runExtraction(r, q, store.TriggerTypeWeb)
	if err != nil {
		data := app.newPageData(q)
		data.Error = types.UserMessage(err)
		app.renderPage(w, r, statusFor(types.KindOf(err)), data)
		return
	}

	if err := renderCSV(w, result, encodingName); err != nil {
		if errors.Is(err, export.ErrUnknownEncoding) {
			http.Error(w, "Unsupported encoding", http.StatusBadRequest)
			return
		}
		app.requestLogger(r).Error("Results", "Failed to export csv: run_id=%s error=%v", result.RunID, err)
		http.Error(w, "Failed to export csv", http.StatusInternalServerError)
	}
}
