package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the identity service.
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
    <title>expensetracker-identity Swagger</title>
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

// OpenAPI document for the OAuth endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "expensetracker-identity", "version": "v0.1.0" },
  "paths": {
    "/oauth/login/{provider}": {
      "get": {
        "summary": "Start an external login",
        "parameters": [
          { "name": "provider", "in": "path", "required": true, "schema": { "type": "string", "enum": ["Microsoft", "GitHub"] } },
          { "name": "returnUrl", "in": "query", "schema": { "type": "string" } }
        ],
        "responses": { "302": { "description": "redirect to the provider consent screen" }, "400": { "description": "unsupported provider" } }
      }
    },
    "/oauth/microsoft-callback": {
      "get": { "summary": "Microsoft redirect target", "responses": { "302": { "description": "redirect to the client with auth=success or error=<kind>" } } }
    },
    "/oauth/github-callback": {
      "get": { "summary": "GitHub redirect target", "responses": { "302": { "description": "redirect to the client with auth=success or error=<kind>" } } }
    },
    "/oauth/status": {
      "get": { "summary": "Local user behind the current session", "responses": { "200": { "description": "{success, user?, error?}" }, "401": { "description": "not authenticated" } } }
    },
    "/oauth/ensure-user": {
      "get": { "summary": "Create or link the local user for the current session", "responses": { "200": { "description": "{success, user?, error?}" }, "401": { "description": "not authenticated" } } }
    },
    "/oauth/handle-state-failure": {
      "get": { "summary": "Recover from a lost state or correlation cookie", "responses": { "302": { "description": "redirect to the client" } } }
    },
    "/oauth/logout": {
      "post": { "summary": "End the local session", "responses": { "200": { "description": "logged out" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
