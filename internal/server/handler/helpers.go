// Package handler implements the endpoints of the ops API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// writeJSON serializes v with the given status. A marshal failure (only
// possible with an unencodable value) degrades to a generic 500 body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit and offset from the query string. Bad or
// missing values fall back to limit 50 offset 0; limit is capped at 500.
func parseListOpts(r *http.Request) domain.ListOpts {
	opts := domain.ListOpts{Limit: 50}
	q := r.URL.Query()

	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = n
	}
	if opts.Limit > 500 {
		opts.Limit = 500
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}
	return opts
}
