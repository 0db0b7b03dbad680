package httpadapter

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
	"github.com/kirillkom/ticket-assistant/internal/infrastructure/export/xlsx"
)

const maxExportRecords = 200

// adminAuthMiddleware requires the admin bearer token when one is configured.
func (rt *Router) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.AdminAPIKey == "" || isAuthorizedBearerHeader(r.Header.Get("Authorization"), rt.cfg.AdminAPIKey) {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	})
}

func isAuthorizedBearerHeader(headerValue, expectedToken string) bool {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" || expectedToken == "" {
		return false
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(headerValue, bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headerValue, bearerPrefix))
	return token == expectedToken
}

func (rt *Router) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := rt.users.GetUser(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (rt *Router) listRecords(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), rt.cfg.HistoryLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := rt.records.ListRecords(r.Context(), chi.URLParam(r, "identifier"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (rt *Router) exportRecords(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	records, err := rt.records.ListRecords(r.Context(), identifier, maxExportRecords)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := xlsx.WriteRecords(&buf, records); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsx.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="receipts-%s.xlsx"`, identifier))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (rt *Router) getRecord(w http.ResponseWriter, r *http.Request) {
	record, err := rt.records.GetRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func parseLimit(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse limit", errors.New("limit must be a positive integer"))
	}
	return limit, nil
}
