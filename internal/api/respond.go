// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/zapsocial/zapfeed/internal/models"
)

// Error codes returned in the error envelope.
const (
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeInternal         = "INTERNAL"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":{"code":"INTERNAL","message":"encoding failed"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// respondError writes the standard error envelope. Message is
// client-safe; internal detail stays in server logs.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, models.ErrorResponse{
		Error: models.APIError{Code: code, Message: message},
	})
}
