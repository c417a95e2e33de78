// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package api exposes the HTTP surface: the paginated post and short
// feeds, the global story feed, health probes, and the manual curated
// trigger.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/zapsocial/zapfeed/internal/auth"
	"github.com/zapsocial/zapfeed/internal/feed"
	"github.com/zapsocial/zapfeed/internal/models"
)

// CuratedTrigger schedules a curated batch run in the background.
type CuratedTrigger interface {
	RunCurated()
}

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	feeds    *feed.Service
	stories  *feed.StoryService
	curated  CuratedTrigger
	ready    func() error
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewHandler creates the handler set. ready is the readiness probe,
// typically a cheap store round-trip.
func NewHandler(feeds *feed.Service, stories *feed.StoryService, curated CuratedTrigger, ready func() error, logger zerolog.Logger) *Handler {
	return &Handler{
		feeds:    feeds,
		stories:  stories,
		curated:  curated,
		ready:    ready,
		validate: validator.New(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// feedQuery is the validated query surface of the feed endpoints.
type feedQuery struct {
	UserID           string `validate:"required,max=128"`
	PerPage          int    `validate:"gte=0,lte=1000"`
	LastItemID       string `validate:"max=128"`
	LastViewedItemID string `validate:"max=128"`
}

func (h *Handler) parseFeedQuery(r *http.Request) (*feedQuery, error) {
	q := r.URL.Query()
	query := &feedQuery{
		UserID:           q.Get("user_id"),
		LastItemID:       q.Get("last_item_id"),
		LastViewedItemID: q.Get("last_viewed_item_id"),
	}
	if raw := q.Get("per_page"); raw != "" {
		perPage, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("per_page must be an integer")
		}
		query.PerPage = perPage
	}
	if err := h.validate.Struct(query); err != nil {
		return nil, err
	}
	return query, nil
}

// GetFeed serves GET /api/v1/feed.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	h.serveFeedPage(w, r, models.ContentPost)
}

// GetShorts serves GET /api/v1/shorts.
func (h *Handler) GetShorts(w http.ResponseWriter, r *http.Request) {
	h.serveFeedPage(w, r, models.ContentShort)
}

func (h *Handler) serveFeedPage(w http.ResponseWriter, r *http.Request, contentType models.ContentType) {
	query, err := h.parseFeedQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid query parameters")
		return
	}

	// A request authenticated as one user cannot read another user's feed.
	if subject := auth.UserID(r.Context()); subject != "" && subject != query.UserID {
		respondError(w, http.StatusForbidden, CodePermissionDenied, "token subject does not match user_id")
		return
	}

	page, err := h.feeds.GetPage(r.Context(), feed.PageRequest{
		UserID:           query.UserID,
		ContentType:      contentType,
		PerPage:          query.PerPage,
		Cursor:           query.LastItemID,
		LastViewedItemID: query.LastViewedItemID,
	})
	if err != nil {
		h.logger.Error().Err(err).
			Str("user_id", query.UserID).
			Str("content_type", string(contentType)).
			Msg("Feed page failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "feed unavailable")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// GetStories serves GET /api/v1/stories.
func (h *Handler) GetStories(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, CodeInvalidArgument, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	stories, err := h.stories.GetStories(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Story feed failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "stories unavailable")
		return
	}
	respondJSON(w, http.StatusOK, stories)
}

// RunCurated serves POST /api/v1/curated/run. The batch runs in the
// background; the response only acknowledges the schedule.
func (h *Handler) RunCurated(w http.ResponseWriter, r *http.Request) {
	h.curated.RunCurated()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// HealthLive serves GET /health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady serves GET /health/ready.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness probe failed")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
