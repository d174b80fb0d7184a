// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

// @title Cubo API
// @version 1.0
// @description Pivot analytics over the health-records warehouse: catalog lookups, cached aggregation queries and runtime connection management.
// @description
// @description ## Rate Limiting
// @description
// @description Per client IP: 300 requests per minute overall, 60 per minute across catalog lookups and 10 per minute for pivot queries.
// @description
// @description ## Error Responses
// @description
// @description All responses share one envelope:
// @description ```json
// @description {
// @description   "success": false,
// @description   "error": {
// @description     "code": "QUERY_TIMEOUT",
// @description     "message": "Query exceeded its deadline",
// @description     "request_id": "..."
// @description   },
// @description   "meta": {"request_id": "...", "timestamp": "2026-01-01T00:00:00Z"}
// @description }
// @description ```
//
// @contact.name GitHub Repository
// @contact.url https://github.com/saludbi/cubo/issues
//
// @license.name AGPL-3.0-or-later
// @license.url https://www.gnu.org/licenses/agpl-3.0.html
//
// @BasePath /
// @schemes http https
package main
