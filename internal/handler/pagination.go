package handler

import (
	"net/http"
	"strconv"
)

// Event and command feeds are paged. The dashboard renders a page at a
// time; capping the page size keeps a noisy device from dragging its
// whole history across in one response.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type PageParams struct {
	Limit  int
	Offset int
}

func parsePage(r *http.Request) PageParams {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	return PageParams{Limit: limit, Offset: offset}
}
