package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the auth service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>socialmap-auth Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document for the auth and admin endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "socialmap-auth", "version": "v1.0.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } },
    "schemas": {
      "User": {"type":"object","properties":{"id":{"type":"string"},"name":{"type":"string"},"email":{"type":"string"},"role":{"type":"string","enum":["user","admin"]},"avatar":{"type":"string"},"federatedId":{"type":"string"}}},
      "AuthResult": {"type":"object","properties":{"success":{"type":"boolean"},"token":{"type":"string"},"user":{"$ref":"#/components/schemas/User"}}},
      "Error": {"type":"object","properties":{"success":{"type":"boolean"},"error":{"type":"string"},"isFederatedAccount":{"type":"boolean"}}}
    }
  },
  "paths": {
    "/api/auth/register": {
      "post": {
        "summary": "Register a local account",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["name","email","password"],"properties":{"name":{"type":"string"},"email":{"type":"string"},"password":{"type":"string"},"federatedId":{"type":"string"}}}}}},
        "responses": { "201": { "description": "token and user" }, "400": { "description": "validation failed or email taken" } }
      }
    },
    "/api/auth/login": {
      "post": {
        "summary": "Login with password or federatedId",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["email"],"properties":{"email":{"type":"string"},"password":{"type":"string"},"federatedId":{"type":"string"}}}}}},
        "responses": { "200": { "description": "token and user" }, "401": { "description": "invalid credentials, isFederatedAccount set for social accounts" } }
      }
    },
    "/api/auth/google": {
      "post": {
        "summary": "Sign in with a Google identity",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"name":{"type":"string"},"email":{"type":"string"},"federatedId":{"type":"string"},"avatar":{"type":"string"},"idToken":{"type":"string"}}}}}},
        "responses": { "200": { "description": "token and user" } }
      }
    },
    "/api/auth/google/redirect": { "get": { "summary": "Start the Google OAuth flow", "responses": { "302": { "description": "redirect to Google" }, "503": { "description": "not configured" } } } },
    "/api/auth/google/callback": { "get": { "summary": "Google OAuth callback", "responses": { "200": { "description": "token and user" }, "302": { "description": "redirect to frontend with token" }, "401": { "description": "authentication failed" } } } },
    "/api/auth/me": {
      "get": { "summary": "Current user", "security": [{"bearer": []}], "responses": { "200": { "description": "user" }, "401": { "description": "not authorized" } } },
      "put": { "summary": "Update profile", "security": [{"bearer": []}], "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"name":{"type":"string"},"email":{"type":"string"},"avatar":{"type":"string"}}}}}}, "responses": { "200": { "description": "user" }, "400": { "description": "email taken" }, "404": { "description": "user not found" } } }
    },
    "/api/auth/me/avatar": { "put": { "summary": "Upload avatar (multipart field avatar)", "security": [{"bearer": []}], "responses": { "200": { "description": "user" }, "503": { "description": "storage not configured" } } } },
    "/api/auth/avatars/{key}": { "get": { "summary": "Avatar image", "responses": { "302": { "description": "presigned URL" }, "404": { "description": "not found" } } } },
    "/api/auth/password": {
      "put": { "summary": "Change password", "security": [{"bearer": []}], "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["currentPassword","newPassword"],"properties":{"currentPassword":{"type":"string"},"newPassword":{"type":"string"}}}}}}, "responses": { "200": { "description": "updated" }, "401": { "description": "current password incorrect" } } }
    },
    "/api/admin/users/{id}": { "get": { "summary": "Look up a user (admin)", "security": [{"bearer": []}], "responses": { "200": { "description": "user" }, "403": { "description": "role not permitted" }, "404": { "description": "not found" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
