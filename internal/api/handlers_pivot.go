// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/saludbi/cubo/internal/cache"
	"github.com/saludbi/cubo/internal/pivot"
	"github.com/saludbi/cubo/internal/validation"
)

// DimensionValuesResponse is the payload of the dimension values endpoint.
type DimensionValuesResponse struct {
	Dimension string                 `json:"dimension"`
	Values    []pivot.DimensionValue `json:"values"`
}

// CacheInvalidateResponse reports a prefix invalidation.
type CacheInvalidateResponse struct {
	Prefix  string `json:"prefix"`
	Removed int    `json:"removed"`
}

// Catalog returns the dimensions, measures and periods a pivot may use.
//
// @Summary Pivot catalog
// @Tags Pivot
// @Produce json
// @Success 200 {object} APIResponse{data=pivot.Info}
// @Failure 503 {object} APIResponse "Warehouse not configured"
// @Router /api/pivot/catalogo [get]
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.catalog.Info())
}

// Years returns the years present in the fact table, newest first.
//
// @Summary Available years
// @Tags Pivot
// @Produce json
// @Success 200 {object} APIResponse{data=[]int}
// @Failure 503 {object} APIResponse "Warehouse not configured"
// @Failure 504 {object} APIResponse "Query timed out"
// @Router /api/pivot/anios [get]
func (h *Handler) Years(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	years, err := h.catalog.ListAvailableYears(r.Context())
	if err != nil {
		rw.ServiceError(err)
		return
	}
	rw.Success(years)
}

// DimensionValues lists the values of one dimension. Every other query
// parameter is a filter on the dimension it names, with comma-separated
// values: ?region=Norte,Sur&anio=2023.
//
// @Summary Dimension values
// @Tags Pivot
// @Produce json
// @Param dimensionId path string true "Dimension ID" example(region)
// @Success 200 {object} APIResponse{data=DimensionValuesResponse}
// @Failure 400 {object} APIResponse "Unknown dimension or invalid filter"
// @Failure 503 {object} APIResponse "Warehouse not configured"
// @Failure 504 {object} APIResponse "Query timed out"
// @Router /api/pivot/dimensiones/{dimensionId}/valores [get]
func (h *Handler) DimensionValues(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "dimensionId")

	values, err := h.catalog.ListDimensionValues(r.Context(), id, filtersFromQuery(r))
	if err != nil {
		rw.ServiceError(err)
		return
	}
	rw.Success(DimensionValuesResponse{Dimension: id, Values: values})
}

// filtersFromQuery turns ?dim=a,b&dim=c into {"dim": [a b c]}. Blank
// values are dropped, and a parameter with none left is ignored.
func filtersFromQuery(r *http.Request) map[string][]string {
	query := r.URL.Query()
	if len(query) == 0 {
		return nil
	}

	filters := make(map[string][]string, len(query))
	for name, raw := range query {
		var values []string
		for _, item := range raw {
			for _, v := range strings.Split(item, ",") {
				if v = strings.TrimSpace(v); v != "" {
					values = append(values, v)
				}
			}
		}
		if len(values) > 0 {
			sort.Strings(values)
			filters[name] = values
		}
	}
	return filters
}

// Query executes a pivot specification.
//
// @Summary Execute pivot query
// @Description Groups the fact table by the requested dimensions and aggregates the requested measures. Equivalent specs share one cached result.
// @Tags Pivot
// @Accept json
// @Produce json
// @Param spec body pivot.Spec true "Pivot specification"
// @Success 200 {object} APIResponse{data=pivot.Result}
// @Failure 400 {object} APIResponse "Invalid specification"
// @Failure 429 {object} APIResponse "Rate limited"
// @Failure 503 {object} APIResponse "Warehouse not configured"
// @Failure 504 {object} APIResponse "Query timed out"
// @Router /api/pivot/consulta [post]
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var spec pivot.Spec
	if err := h.decodeJSONBody(w, r, &spec); err != nil {
		writeDecodeError(rw, err)
		return
	}
	if verr := validation.ValidateStruct(&spec); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	res, err := h.engine.Execute(r.Context(), spec)
	if err != nil {
		rw.ServiceError(err)
		return
	}
	rw.Success(res)
}

// CacheStats returns the result cache counters and keys.
//
// @Summary Cache statistics
// @Tags Cache
// @Produce json
// @Success 200 {object} APIResponse{data=cache.Stats}
// @Router /api/pivot/cache/stats [get]
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.cache.Stats())
}

// CacheInvalidate removes every cached entry under a key prefix.
//
// @Summary Invalidate cache
// @Tags Cache
// @Produce json
// @Param prefijo query string false "Key prefix; every pivot entry when omitted" example(pivot:dimension:region)
// @Success 200 {object} APIResponse{data=CacheInvalidateResponse}
// @Router /api/pivot/cache [delete]
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefijo")
	if prefix == "" {
		prefix = cache.PivotPrefix
	}
	removed := h.cache.DeleteByPrefix(prefix)
	NewResponseWriter(w, r).Success(CacheInvalidateResponse{Prefix: prefix, Removed: removed})
}
