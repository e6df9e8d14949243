package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"farmfish/internal/config"
	"farmfish/internal/farm"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// FarmService is the slice of the farm core the HTTP layer depends on.
type FarmService interface {
	CreatePlayer(ctx context.Context, in farm.NewPlayer) (farm.Player, error)
	Player(ctx context.Context, id string) (farm.Player, error)
	SetPlayerField(ctx context.Context, id, field string, value any) (farm.Player, error)
	Houses(ctx context.Context, playerID string) (string, error)
	ReplaceHouses(ctx context.Context, playerID string, payload []byte) (string, error)
	PatchHouse(ctx context.Context, playerID string, payload []byte) (string, error)
	Payout(ctx context.Context, in farm.PayoutInput) (farm.PayoutResult, error)
	CatalogItem(ctx context.Context, id int64) (farm.CatalogItem, error)
}

type Server struct {
	cfg  config.Config
	log  *slog.Logger
	farm FarmService
	mux  *chi.Mux
}

func New(cfg config.Config, logger *slog.Logger, svc FarmService) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:  cfg,
		log:  logger,
		farm: svc,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/players", func(r chi.Router) {
			r.Post("/", s.handleCreatePlayer)
			r.Get("/{id}", s.handlePlayer)
			r.Patch("/{id}", s.handleSetPlayerField)

			r.Get("/{id}/houses", s.handleHouses)
			r.Put("/{id}/houses", s.handleReplaceHouses)
			r.Patch("/{id}/houses", s.handlePatchHouse)
			r.Post("/{id}/houses/payout", s.handlePayout)
		})
		r.Get("/products/{id}", s.handleProduct)
	})
}

func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	in := farm.DefaultNewPlayer()
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.farm.CreatePlayer(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	out, err := s.farm.Player(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetPlayerField(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		Field string `json:"field"`
		Value any    `json:"value"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.farm.SetPlayerField(r.Context(), chi.URLParam(r, "id"), in.Field, in.Value)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHouses(w http.ResponseWriter, r *http.Request) {
	houses, err := s.farm.Houses(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"houses": houses})
}

func (s *Server) handleReplaceHouses(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	houses, err := s.farm.ReplaceHouses(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true, "houses": houses})
}

func (s *Server) handlePatchHouse(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	houses, err := s.farm.PatchHouse(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true, "houses": houses})
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	houseID, err := positiveIntParam(r, "house_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Older clients send product_id, newer ones catalog_item_id.
	productID, err := positiveIntParam(r, "product_id")
	if err != nil {
		if productID, err = positiveIntParam(r, "catalog_item_id"); err != nil {
			writeError(w, http.StatusBadRequest, "product_id must be a positive integer")
			return
		}
	}
	out, err := s.farm.Payout(r.Context(), farm.PayoutInput{
		PlayerID:       chi.URLParam(r, "id"),
		HouseID:        houseID,
		ProductID:      productID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !out.LedgerRecorded {
		s.log.Warn("payout credited without ledger entry",
			"player_id", chi.URLParam(r, "id"), "house_id", houseID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ton": farm.NanoToTon(out.TonNano)})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}
	out, err := s.farm.CatalogItem(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, farm.ErrPlayerNotFound), errors.Is(err, farm.ErrProductNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, farm.ErrPlayerExists), errors.Is(err, farm.ErrDuplicateIdempotency):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, farm.ErrHouseNotActive),
		errors.Is(err, farm.ErrHouseIDRequired),
		errors.Is(err, farm.ErrItemsRequired),
		errors.Is(err, farm.ErrUnknownField),
		errors.Is(err, farm.ErrInvalidFieldValue):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, farm.ErrTxConflict):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func positiveIntParam(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("request body too large or unreadable")
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// idempotencyKey honors a client-supplied Idempotency-Key header and
// otherwise generates a fresh one, so unkeyed requests are never deduped.
func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}
