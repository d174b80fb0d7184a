// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Key namespaces. Everything derived from the warehouse lives under
// PivotPrefix so a configuration change can drop it in one call.
const (
	PivotPrefix     = "pivot:"
	KeyCatalog      = "pivot:catalogo"
	KeyYears        = "pivot:anios"
	DimensionPrefix = "pivot:dimension:"
	QueryPrefix     = "pivot:consulta:"
)

// Default TTLs per namespace. Catalog data changes at most daily; query
// results track transactional data.
const (
	TTLCatalog          = 30 * time.Minute
	TTLYears            = 10 * time.Minute
	TTLStaticDimension  = 15 * time.Minute
	TTLDynamicDimension = 5 * time.Minute
	TTLQuery            = 2 * time.Minute
)

// DimensionKey builds the key for a dimension's value domain. Filters are
// canonicalized, so map iteration order and value order do not matter. The
// filter suffix is a JSON array of [name, values] pairs; names and values
// are quoted, so separators inside a value cannot forge another filter set.
//
//	pivot:dimension:region
//	pivot:dimension:establecimiento:[["region",["1","2"]]]
func DimensionKey(dimensionID string, filters map[string][]string) string {
	family := DimensionFamily(dimensionID)
	if len(filters) == 0 {
		return family
	}

	names := make([]string, 0, len(filters))
	for name := range filters {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([][2]any, 0, len(names))
	for _, name := range names {
		values := append([]string{}, filters[name]...)
		sort.Strings(values)
		pairs = append(pairs, [2]any{name, values})
	}

	data, err := json.Marshal(pairs)
	if err != nil {
		// []string and string always encode; keep a hashed fallback anyway.
		return GenerateKey(family, fmt.Sprint(pairs))
	}
	var b strings.Builder
	b.Grow(len(family) + 1 + len(data))
	b.WriteString(family)
	b.WriteByte(':')
	b.Write(data)
	return b.String()
}

// DimensionFamily returns the prefix shared by every key of one dimension.
func DimensionFamily(dimensionID string) string {
	return DimensionPrefix + dimensionID
}

// QueryKey builds a compact key from an already canonical value. The value
// is JSON encoded and hashed, so callers must canonicalize ordering first.
func QueryKey(canonical any) string {
	return GenerateKey(QueryPrefix[:len(QueryPrefix)-1], canonical)
}

// GenerateKey creates "<namespace>:<hash>" from the JSON form of params.
func GenerateKey(namespace string, params any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%v", namespace, params)
	}
	sum := sha256.Sum256(data)
	return namespace + ":" + hex.EncodeToString(sum[:16])
}
