package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/salesops/salesops/internal/shared"
	"github.com/salesops/salesops/internal/store"
)

// DateRangeQuery reads from/to (YYYY-MM-DD) from the query string. Missing
// bounds default to the month to date of now.
func DateRangeQuery(r *http.Request, loc *time.Location, now time.Time) (store.DateRange, error) {
	def := store.MonthToDate(now, loc)
	q := r.URL.Query()
	from := q.Get("from")
	if from == "" {
		from = def.From.Format("2006-01-02")
	}
	to := q.Get("to")
	if to == "" {
		to = def.To.Format("2006-01-02")
	}
	rng, err := store.ParseDateRange(from, to, loc)
	if err != nil {
		return store.DateRange{}, shared.Invalid("%v", err)
	}
	if err := rng.Validate(); err != nil {
		return store.DateRange{}, shared.Invalid("%v", err)
	}
	return rng, nil
}

// IDParam parses a positive int64 chi URL parameter.
func IDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid("%s must be a positive integer", name)
	}
	return id, nil
}
