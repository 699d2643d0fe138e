package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LMS Studio API",
        "description": "Course import/export, account provisioning and lifecycle event routing for the LMS studio.",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"},
        "ApiKeyAuth": {"type": "apiKey", "in": "header", "name": "X-Edx-Api-Key"}
    },
    "tags": [
        {"name": "Courses", "description": "Course archive import and export"},
        {"name": "Accounts", "description": "Account provisioning for the external identity provider"},
        {"name": "Reruns", "description": "Course rerun status polling"},
        {"name": "Events", "description": "Lifecycle event dispatch"}
    ],
    "paths": {
        "/courses/v0/import/{course_id}/": {
            "post": {
                "tags": ["Courses"],
                "summary": "Upload a course archive for import",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "course_id", "in": "path", "required": true, "type": "string"},
                    {"name": "course_data", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "200": {"description": "Task enqueued", "schema": {"$ref": "#/definitions/TaskResponse"}},
                    "400": {"description": "Missing or malformed archive", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Not a course author", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Courses"],
                "summary": "Poll a course import",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "course_id", "in": "path", "required": true, "type": "string"},
                    {"name": "task_id", "in": "query", "required": true, "type": "string"},
                    {"name": "filename", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Task state", "schema": {"$ref": "#/definitions/TaskStateResponse"}},
                    "404": {"description": "Unknown task", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/v0/export/{course_id}/": {
            "post": {
                "tags": ["Courses"],
                "summary": "Export a course as an OLX archive",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "course_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Task enqueued", "schema": {"$ref": "#/definitions/TaskResponse"}},
                    "403": {"description": "Not a course author", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Courses"],
                "summary": "Poll a course export",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "course_id", "in": "path", "required": true, "type": "string"},
                    {"name": "task_id", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Task state and download link", "schema": {"$ref": "#/definitions/ExportStatusResponse"}},
                    "404": {"description": "Unknown task", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/v0/export/{course_id}/download": {
            "get": {
                "tags": ["Courses"],
                "summary": "Download an exported course archive",
                "produces": ["application/gzip"],
                "parameters": [
                    {"name": "course_id", "in": "path", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Archive", "schema": {"type": "file"}},
                    "403": {"description": "Invalid or expired link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/accounts": {
            "post": {
                "tags": ["Accounts"],
                "summary": "Provision an account",
                "security": [{"ApiKeyAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAccountRequest"}}
                ],
                "responses": {
                    "200": {"description": "Account created", "schema": {"$ref": "#/definitions/AccountResponse"}},
                    "400": {"description": "Invalid parameter", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Account exists", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Accounts"],
                "summary": "Update an account by external uid",
                "security": [{"ApiKeyAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateAccountRequest"}}
                ],
                "responses": {
                    "200": {"description": "Account updated", "schema": {"$ref": "#/definitions/AccountResponse"}},
                    "404": {"description": "Unknown uid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Email or username taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/rerun-check": {
            "post": {
                "tags": ["Reruns"],
                "summary": "Check whether displayed reruns are still pending",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RerunCheckRequest"}}
                ],
                "responses": {
                    "200": {"description": "Reload decision", "schema": {"$ref": "#/definitions/RerunCheckResponse"}}
                }
            }
        },
        "/internal/events": {
            "post": {
                "tags": ["Events"],
                "summary": "Dispatch a lifecycle event",
                "security": [{"ApiKeyAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EventEnvelope"}}
                ],
                "responses": {
                    "200": {"description": "Handlers run", "schema": {"$ref": "#/definitions/EventResponse"}},
                    "400": {"description": "Unknown event or malformed payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "500": {"description": "A propagating handler failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "TaskResponse": {
            "type": "object",
            "properties": {"task_id": {"type": "string"}}
        },
        "TaskStateResponse": {
            "type": "object",
            "properties": {"state": {"type": "string", "enum": ["Pending", "In Progress", "Succeeded", "Failed", "Canceled", "Retrying"]}}
        },
        "ExportStatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "export_output": {"type": "string"}
            }
        },
        "CreateAccountRequest": {
            "type": "object",
            "required": ["email", "username", "uid"],
            "properties": {
                "email": {"type": "string"},
                "username": {"type": "string"},
                "uid": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "gender": {"type": "string", "enum": ["m", "f", "o"]}
            }
        },
        "UpdateAccountRequest": {
            "type": "object",
            "required": ["uid"],
            "properties": {
                "uid": {"type": "string"},
                "email": {"type": "string"},
                "username": {"type": "string"},
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "gender": {"type": "string", "enum": ["m", "f", "o"]}
            }
        },
        "AccountResponse": {
            "type": "object",
            "properties": {
                "user_id": {"type": "integer"},
                "username": {"type": "string"}
            }
        },
        "RerunCheckRequest": {
            "type": "object",
            "properties": {"courses": {"type": "array", "items": {"type": "string"}}}
        },
        "RerunCheckResponse": {
            "type": "object",
            "properties": {"is_reload": {"type": "boolean"}}
        },
        "EventEnvelope": {
            "type": "object",
            "required": ["type", "payload"],
            "properties": {
                "type": {"type": "string", "enum": ["course_published", "library_updated", "item_deleted", "grading_policy_changed", "enrollment_created"]},
                "payload": {"type": "object"}
            }
        },
        "EventResponse": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "handlers": {"type": "array", "items": {"type": "string"}}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "field_errors": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
