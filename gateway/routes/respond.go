package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nftmarket/native/marketplace"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		writeInternalError(w, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, "bad_request", err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, "internal", err)
}

func writeJSONError(w http.ResponseWriter, status int, code string, err error) {
	message := ""
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" || status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(errorResponse{Error: message, Code: code})
	if marshalErr != nil {
		payload = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "invalid_price", "invalid_asset_id":
		return http.StatusBadRequest
	case "not_owner", "not_approved":
		return http.StatusForbidden
	case "not_listed", "no_proceeds", "asset_not_found":
		return http.StatusNotFound
	case "already_listed", "not_stale", "reentrant":
		return http.StatusConflict
	case "price_not_met", "payment_failed":
		return http.StatusPaymentRequired
	case "transfer_failed", "withdrawal_failed":
		return http.StatusBadGateway
	case "paused", "canceled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError renders a marketplace error. Only the first line of the
// message is exposed so rollback details stay in the logs.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := marketplace.ErrorKind(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		writeInternalError(w, err)
		return
	}
	first, _, _ := strings.Cut(err.Error(), "\n")
	writeJSONError(w, status, kind, errors.New(first))
}
