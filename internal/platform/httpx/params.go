package httpx

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ActorHeader carries the id of the user acting through an upstream gateway.
const ActorHeader = "X-Actor-ID"

// ActorID returns the acting user id, or 0 when the header is absent.
func ActorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get(ActorHeader), 10, 64)
	return id
}

// PathID parses a positive int64 URL parameter, writing a 400 problem when it
// cannot.
func PathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+name)
		return 0, false
	}
	return id, true
}

// QueryInt64 parses an optional int64 query value.
func QueryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}
