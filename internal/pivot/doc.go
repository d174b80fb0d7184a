// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

// Package pivot answers dimension/measure cross-tabulations over the
// health-records fact table.
//
// The fact table (atenciones by default) has one row per attention with
// the columns anio, mes, region, establecimiento, sexo, grupo_edad,
// diagnostico, paciente_id, edad and dias_estancia. Catalog describes
// which of them can be grouped or aggregated; Engine validates a Spec
// against it, builds a parameterized GROUP BY query and caches the result
// under a key that ignores the order of dimensions, measures and filter
// values.
package pivot
