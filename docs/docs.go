// Package docs registers the device API description with swag.
// Regenerate with: swag init -g cmd/client/main.go
package docs

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
        "/health": {"get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}},
        "/auth/register": {"post": {"tags": ["auth"], "summary": "Register a new member", "responses": {"201": {"description": "Created"}, "400": {"description": "Validation error"}, "409": {"description": "Email already exists"}, "429": {"description": "Too many requests"}}}},
        "/auth/login": {"post": {"tags": ["auth"], "summary": "Sign in", "responses": {"200": {"description": "OK"}, "401": {"description": "Invalid credentials"}}}},
        "/auth/logout": {"post": {"tags": ["auth"], "summary": "Sign out", "responses": {"200": {"description": "OK"}}}},
        "/auth/verify-email": {"get": {"tags": ["auth"], "summary": "Verify email address", "parameters": [{"type": "string", "name": "token", "in": "query", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid token"}}}},
        "/auth/resend-verification": {"post": {"security": [{"BearerAuth": []}], "tags": ["auth"], "summary": "Resend verification email", "responses": {"200": {"description": "OK"}, "429": {"description": "Sent too recently"}}}},
        "/auth/check-verification": {"post": {"security": [{"BearerAuth": []}], "tags": ["auth"], "summary": "Refresh verification status", "responses": {"200": {"description": "OK"}}}},
        "/account": {"delete": {"security": [{"BearerAuth": []}], "tags": ["account"], "summary": "Delete account", "responses": {"200": {"description": "OK"}, "403": {"description": "Sign in again to finish"}}}},
        "/session": {"get": {"tags": ["session"], "summary": "Current session", "responses": {"200": {"description": "OK"}}}},
        "/card/qr": {"get": {"security": [{"BearerAuth": []}], "produces": ["image/png"], "tags": ["session"], "summary": "Customer QR code", "responses": {"200": {"description": "PNG"}, "409": {"description": "Not in customer mode"}}}},
        "/scanner/scan": {"post": {"security": [{"BearerAuth": []}], "tags": ["scanner"], "summary": "Submit a scan", "responses": {"200": {"description": "OK"}, "409": {"description": "Scanner disabled or scan ignored"}}}},
        "/scanner/outcome": {"get": {"security": [{"BearerAuth": []}], "tags": ["scanner"], "summary": "Pending outcome", "responses": {"200": {"description": "OK"}, "204": {"description": "Nothing pending"}}}},
        "/scanner/ack": {"post": {"security": [{"BearerAuth": []}], "tags": ["scanner"], "summary": "Acknowledge outcome", "responses": {"200": {"description": "OK"}, "409": {"description": "Nothing to acknowledge"}}}}
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and the session token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Loyalty Card Device API",
	Description:      "Local API of a loyalty card device: sign-in, card state, staff scanning and live events.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
