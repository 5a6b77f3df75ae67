package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/typerace-backend/internal/session"
	"github.com/DoyleJ11/typerace-backend/internal/store"
	"github.com/DoyleJ11/typerace-backend/internal/ws"
)

const maxCodeAttempts = 10

// Hub is the room registry as seen from HTTP.
type Hub interface {
	ws.Rooms
	Get(ctx context.Context, roomID string) (*session.Session, error)
	Rooms(ctx context.Context) ([]string, error)
}

// Results reads archived rounds. Nil when the archive is disabled.
type Results interface {
	Recent(ctx context.Context, roomID string, limit int) ([]store.RoundRecord, error)
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// CreateRoom hands out a code no live room is using. The room itself is
// created by the first join.
func CreateRoom(h Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for range maxCodeAttempts {
			code, err := GenerateCode()
			if err != nil {
				log.Error("generate room code", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to generate code")
				return
			}
			s, err := h.Get(r.Context(), code)
			if err != nil {
				log.Error("look up room code", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "server is shutting down")
				return
			}
			if s == nil {
				writeJSON(w, http.StatusCreated, map[string]string{"code": code})
				return
			}
			log.Debug("collision on code, regenerating", zap.String("code", code))
		}
		writeError(w, http.StatusServiceUnavailable, "no free room code")
	}
}

func GetRoom(h Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		s, err := h.Get(r.Context(), roomID)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		if s == nil {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		snap, err := s.Snapshot(r.Context())
		if errors.Is(err, session.ErrClosed) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func RoomResults(res Results, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if res == nil {
			writeError(w, http.StatusNotFound, "results archive is disabled")
			return
		}
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 100 {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
				return
			}
			limit = n
		}

		recs, err := res.Recent(r.Context(), chi.URLParam(r, "roomID"), limit)
		if err != nil {
			log.Error("read results", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read results")
			return
		}
		if recs == nil {
			recs = []store.RoundRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func Healthz(h Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := h.Rooms(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "shutting down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rooms": len(rooms)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
