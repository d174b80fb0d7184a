// Cubo - Health Records Pivot Analytics Service
// Copyright 2026 Cubo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/saludbi/cubo

// Package docs registers the OpenAPI document served at /swagger/doc.json.
// Regenerate with `swag init -g cmd/server/main.go` after changing handler
// annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "GitHub Repository",
            "url": "https://github.com/saludbi/cubo/issues"
        },
        "license": {
            "name": "AGPL-3.0-or-later",
            "url": "https://www.gnu.org/licenses/agpl-3.0.html"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/salud": {
            "get": {
                "description": "Returns service name and environment. Does not touch the warehouse.",
                "produces": ["application/json"],
                "tags": ["Core"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/configuracion/bd": {
            "get": {
                "description": "Returns the active connection settings with the password masked, plus pool status.",
                "produces": ["application/json"],
                "tags": ["Configuration"],
                "summary": "Get warehouse configuration",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            },
            "put": {
                "description": "Probes the new connection before saving. In-flight queries finish on the old pool.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Configuration"],
                "summary": "Update warehouse configuration",
                "parameters": [
                    {
                        "description": "Connection settings",
                        "name": "config",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/api.DBConfigRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "400": {"description": "Invalid settings or connection failed", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "413": {"description": "Body too large", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "500": {"description": "Could not save or apply", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/pivot/catalogo": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Pivot"],
                "summary": "Pivot catalog",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "503": {"description": "Warehouse not configured", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/pivot/anios": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Pivot"],
                "summary": "Available years",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "503": {"description": "Warehouse not configured", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "504": {"description": "Query timed out", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/pivot/dimensiones/{dimensionId}/valores": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Pivot"],
                "summary": "Dimension values",
                "parameters": [
                    {
                        "type": "string",
                        "example": "region",
                        "description": "Dimension ID",
                        "name": "dimensionId",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "400": {"description": "Unknown dimension or invalid filter", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "503": {"description": "Warehouse not configured", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "504": {"description": "Query timed out", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/pivot/consulta": {
            "post": {
                "description": "Groups the fact table by the requested dimensions and aggregates the requested measures. Equivalent specs share one cached result.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Pivot"],
                "summary": "Execute pivot query",
                "parameters": [
                    {
                        "description": "Pivot specification",
                        "name": "spec",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/pivot.Spec"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "400": {"description": "Invalid specification", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "503": {"description": "Warehouse not configured", "schema": {"$ref": "#/definitions/api.APIResponse"}},
                    "504": {"description": "Query timed out", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/pivot/cache/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Cache"],
                "summary": "Cache statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        },
        "/api/pivot/cache": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["Cache"],
                "summary": "Invalidate cache",
                "parameters": [
                    {
                        "type": "string",
                        "example": "pivot:dimension:region",
                        "description": "Key prefix; every pivot entry when omitted",
                        "name": "prefijo",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/api.APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "api.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "details": {},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "api.APIMeta": {
            "type": "object",
            "properties": {
                "duration_ms": {"type": "integer"},
                "request_id": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "api.APIResponse": {
            "type": "object",
            "properties": {
                "data": {},
                "error": {"$ref": "#/definitions/api.APIError"},
                "meta": {"$ref": "#/definitions/api.APIMeta"},
                "success": {"type": "boolean"}
            }
        },
        "api.DBConfigRequest": {
            "type": "object",
            "required": ["driver"],
            "properties": {
                "driver": {"type": "string", "enum": ["mysql", "duckdb"]},
                "host": {"type": "string", "maxLength": 255},
                "port": {"type": "integer", "maximum": 65535, "minimum": 0},
                "username": {"type": "string", "maxLength": 128},
                "password": {"type": "string", "maxLength": 256},
                "database": {"type": "string", "maxLength": 1024},
                "tls_enabled": {"type": "boolean"},
                "tls_skip_verify": {"type": "boolean"},
                "max_connections": {"type": "integer", "maximum": 1000, "minimum": 0},
                "max_queue_depth": {"type": "integer", "maximum": 100000, "minimum": 0},
                "connect_timeout_ms": {"type": "integer", "maximum": 600000, "minimum": 0},
                "charset": {"type": "string", "maxLength": 32}
            }
        },
        "pivot.Spec": {
            "type": "object",
            "required": ["measures"],
            "properties": {
                "dimensions": {"type": "array", "maxItems": 7, "items": {"type": "string"}},
                "measures": {"type": "array", "maxItems": 4, "minItems": 1, "items": {"type": "string"}},
                "filters": {"type": "object", "additionalProperties": {"type": "array", "items": {}}},
                "year": {"type": "integer", "maximum": 2200, "minimum": 1900},
                "period": {"type": "string", "maxLength": 8}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Cubo API",
	Description:      "Pivot analytics over the health-records warehouse: catalog lookups, cached aggregation queries and runtime connection management.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
