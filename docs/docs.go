package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "FieldCrew Dispatch API",
    "description": "Builds daily job-to-worker assignment proposals for field-service providers",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/healthz": {
      "get": {
        "tags": ["health"],
        "summary": "Health check",
        "produces": ["application/json"],
        "responses": {"200": {"description": "OK"}, "503": {"description": "Backing store unavailable"}}
      }
    },
    "/api/schedules": {
      "post": {
        "tags": ["schedules"],
        "summary": "Run the scheduler",
        "description": "Builds a draft assignment proposal for one provider and day",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [
          {"name": "X-Admin-Key", "in": "header", "type": "string", "required": false},
          {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScheduleRequest"}}
        ],
        "responses": {"200": {"description": "OK"}, "400": {"description": "Validation error"}, "401": {"description": "Invalid admin key"}, "500": {"description": "Scheduling failed"}}
      }
    },
    "/api/proposals/{id}": {
      "get": {
        "tags": ["schedules"],
        "summary": "Proposal details",
        "produces": ["application/json"],
        "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}],
        "responses": {"200": {"description": "OK"}, "404": {"description": "Proposal not found"}}
      }
    },
    "/api/availability/check": {
      "post": {
        "tags": ["availability"],
        "summary": "Check worker availability",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AvailabilityRequest"}}],
        "responses": {"200": {"description": "OK"}, "400": {"description": "Validation error"}}
      }
    },
    "/api/geocode": {
      "post": {
        "tags": ["geocode"],
        "summary": "Geocode an address",
        "description": "Forward geocodes address, or reverse geocodes lat/lon when no address is given",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GeocodeRequest"}}],
        "responses": {"200": {"description": "OK"}, "400": {"description": "Validation error"}, "404": {"description": "Location not found"}}
      }
    },
    "/api/distance": {
      "get": {
        "tags": ["distance"],
        "summary": "Estimate drive distance",
        "produces": ["application/json"],
        "parameters": [
          {"name": "from_lat", "in": "query", "type": "number", "required": true},
          {"name": "from_lon", "in": "query", "type": "number", "required": true},
          {"name": "to_lat", "in": "query", "type": "number", "required": true},
          {"name": "to_lon", "in": "query", "type": "number", "required": true},
          {"name": "departure", "in": "query", "type": "string", "required": false}
        ],
        "responses": {"200": {"description": "OK"}, "400": {"description": "Validation error"}}
      }
    },
    "/api/distance/matrix": {
      "post": {
        "tags": ["distance"],
        "summary": "Distance matrix",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/MatrixRequest"}}],
        "responses": {"200": {"description": "OK"}, "400": {"description": "Validation error"}}
      }
    }
  },
  "definitions": {
    "Coordinates": {
      "type": "object",
      "properties": {"lat": {"type": "number"}, "lon": {"type": "number"}}
    },
    "ScheduleRequest": {
      "type": "object",
      "required": ["provider_id", "date"],
      "properties": {
        "provider_id": {"type": "string"},
        "date": {"type": "string", "example": "2024-06-12"},
        "job_ids": {"type": "array", "items": {"type": "string"}},
        "exclude_worker_ids": {"type": "array", "items": {"type": "string"}},
        "created_by": {"type": "string"}
      }
    },
    "AvailabilityRequest": {
      "type": "object",
      "required": ["worker_id", "date", "start_time", "end_time"],
      "properties": {
        "worker_id": {"type": "string"},
        "job_id": {"type": "string"},
        "date": {"type": "string", "example": "2024-06-12"},
        "start_time": {"type": "string", "example": "09:00"},
        "end_time": {"type": "string", "example": "11:00"},
        "duration_hours": {"type": "number"}
      }
    },
    "GeocodeRequest": {
      "type": "object",
      "properties": {
        "address": {"type": "string"},
        "lat": {"type": "number"},
        "lon": {"type": "number"}
      }
    },
    "MatrixRequest": {
      "type": "object",
      "required": ["origins", "destinations"],
      "properties": {
        "origins": {"type": "array", "items": {"$ref": "#/definitions/Coordinates"}},
        "destinations": {"type": "array", "items": {"$ref": "#/definitions/Coordinates"}},
        "departure": {"type": "string"}
      }
    }
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
