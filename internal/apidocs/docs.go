// Package apidocs registers the Swagger document for the ops HTTP API with
// swag. Regenerate with `make swagger-gen` after changing handler annotations.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "tags": ["ops"],
                "summary": "Liveness probe",
                "produces": ["text/plain"],
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/readyz": {
            "get": {
                "tags": ["ops"],
                "summary": "Readiness probe; ready once the printer subscription is active",
                "produces": ["text/plain"],
                "responses": {
                    "200": {"description": "ready"},
                    "503": {"description": "connecting"}
                }
            }
        },
        "/status": {
            "get": {
                "tags": ["status"],
                "summary": "Bridge status",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/snapshot": {
            "get": {
                "tags": ["status"],
                "summary": "Merged printer status and last written document",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SnapshotResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.SyncStats": {
            "type": "object",
            "properties": {
                "mode": {"type": "string", "example": "immediate"},
                "document": {"type": "string", "example": "printer_status/current"},
                "arrivals": {"type": "integer", "example": 1520},
                "writes": {"type": "integer", "example": 310},
                "unchanged": {"type": "integer", "example": 1210},
                "failures": {"type": "integer", "example": 0},
                "last_write_unix": {"type": "integer", "example": 1700000000},
                "last_error": {"type": "string"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "example": "online"},
                "connection": {"type": "string", "example": "subscribed"},
                "moonraker_url": {"type": "string", "example": "ws://printer.local/websocket"},
                "filename": {"type": "string", "example": "benchy.gcode"},
                "connects_total": {"type": "integer", "example": 3},
                "disconnects_total": {"type": "integer", "example": 2},
                "last_connected_unix": {"type": "integer", "example": 1700000000},
                "last_error": {"type": "string"},
                "sync": {"$ref": "#/definitions/types.SyncStats"},
                "uptime_seconds": {"type": "integer", "example": 3600},
                "server_time_unix": {"type": "integer", "example": 1700000000}
            }
        },
        "types.SnapshotResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "object", "additionalProperties": true},
                "document": {"type": "object", "additionalProperties": {"type": "object", "additionalProperties": true}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "printsync API",
	Description:      "Ops API for the Moonraker to document store bridge.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
