package httpapi

import (
	"context"
	"fmt"
	"net/http"
)

type contextKey string

const farmerIDKey contextKey = "farmerID"

// requireFarmer validates the bearer token and stashes the farmer id on the
// request context.
func (h *handler) requireFarmer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("missing bearer token"))
			return
		}
		farmerID, err := h.farmers.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), farmerIDKey, farmerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func farmerFromContext(r *http.Request) string {
	id, _ := r.Context().Value(farmerIDKey).(string)
	return id
}
