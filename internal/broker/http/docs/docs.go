// Package docs registers the broker's Swagger 2.0 document with swag so
// httpSwagger can serve it at /swagger/doc.json.
//
// Keep the template in step with the godoc annotations on the handlers in
// internal/broker/http.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Aussie Broadwan",
            "url": "https://github.com/aussiebroadwan/mcpbroker"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/authorize": {
            "get": {
                "description": "Validates an OAuth 2.1 authorization request with PKCE (S256 only), parks it as a pending authorization and redirects the browser to the consent page with auth_id.",
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Authorization Endpoint",
                "parameters": [
                    {"type": "string", "default": "code", "description": "Must be 'code'", "name": "response_type", "in": "query", "required": true},
                    {"type": "string", "description": "Client identifier", "name": "client_id", "in": "query", "required": true},
                    {"type": "string", "description": "Absolute https URI, or http on a loopback host", "name": "redirect_uri", "in": "query", "required": true},
                    {"type": "string", "description": "Space-delimited scopes, empty requests all", "name": "scope", "in": "query"},
                    {"type": "string", "description": "Opaque value returned to the client", "name": "state", "in": "query"},
                    {"type": "string", "description": "PKCE code challenge", "name": "code_challenge", "in": "query", "required": true},
                    {"enum": ["S256"], "type": "string", "description": "PKCE method", "name": "code_challenge_method", "in": "query", "required": true}
                ],
                "responses": {
                    "302": {"description": "Redirect to the consent page with auth_id", "schema": {"type": "string"}},
                    "400": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "429": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/consent": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Approves or denies a pending authorization as the signed-in main application user and returns where the browser goes next.",
                "consumes": ["application/json", "application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Resolve Consent",
                "parameters": [
                    {"description": "auth_id and action (approve or deny)", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/authsdk.ConsentRequest"}}
                ],
                "responses": {
                    "200": {"description": "redirect_uri", "schema": {"$ref": "#/definitions/authsdk.ConsentResponse"}},
                    "400": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "401": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "403": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/pending/{authId}": {
            "get": {
                "description": "Returns the non-secret view of a pending authorization for the consent page.",
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "Pending Authorization",
                "parameters": [
                    {"type": "string", "description": "Pending authorization id", "name": "authId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "client, redirect and scopes", "schema": {"$ref": "#/definitions/authsdk.PendingAuthorizationResponse"}},
                    "400": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "401": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/token": {
            "post": {
                "description": "Issues MCP access tokens for the authorization_code, device_code and jwt-bearer grants.",
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["OAuth2"],
                "summary": "OAuth2 Token Endpoint",
                "parameters": [
                    {"enum": ["authorization_code", "urn:ietf:params:oauth:grant-type:device_code", "urn:ietf:params:oauth:grant-type:jwt-bearer"], "type": "string", "description": "Grant type", "name": "grant_type", "in": "formData", "required": true},
                    {"type": "string", "description": "Client identifier", "name": "client_id", "in": "formData", "required": true},
                    {"type": "string", "description": "Authorization code (authorization_code grant)", "name": "code", "in": "formData"},
                    {"type": "string", "description": "Redirect URI used at /authorize (authorization_code grant)", "name": "redirect_uri", "in": "formData"},
                    {"type": "string", "description": "PKCE code_verifier (authorization_code grant)", "name": "code_verifier", "in": "formData"},
                    {"type": "string", "description": "Device code (device_code grant)", "name": "device_code", "in": "formData"},
                    {"type": "string", "description": "Main application token (jwt-bearer grant)", "name": "assertion", "in": "formData"},
                    {"type": "string", "description": "Space-delimited scopes (jwt-bearer grant)", "name": "scope", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "access_token, token_type, expires_in, scope", "schema": {"$ref": "#/definitions/authsdk.TokenResponse"}, "headers": {"Cache-Control": {"type": "string", "description": "no-store"}}},
                    "400": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "403": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "500": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/device/code": {
            "post": {
                "description": "Starts the RFC 8628 device flow and returns the device code, user code and verification URIs.",
                "consumes": ["application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["Device"],
                "summary": "Device Authorization Endpoint",
                "parameters": [
                    {"type": "string", "description": "Client identifier", "name": "client_id", "in": "formData", "required": true},
                    {"type": "string", "description": "Space-delimited scopes", "name": "scope", "in": "formData"}
                ],
                "responses": {
                    "200": {"description": "device_code, user_code, verification_uri, expires_in, interval", "schema": {"$ref": "#/definitions/authsdk.DeviceAuthorizationResponse"}},
                    "400": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/device/verify": {
            "get": {
                "description": "Looks up what a user code would grant so the approval page can show it.",
                "produces": ["application/json"],
                "tags": ["Device"],
                "summary": "Verify User Code",
                "parameters": [
                    {"type": "string", "description": "User code, any case, dash optional", "name": "user_code", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "client, scopes and status", "schema": {"$ref": "#/definitions/authsdk.DeviceVerificationResponse"}},
                    "400": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "404": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/device/approve": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Approves or denies a user code as the signed-in main application user. The last decision wins until the device polls.",
                "consumes": ["application/json", "application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "tags": ["Device"],
                "summary": "Decide Device Authorization",
                "parameters": [
                    {"description": "user_code and action (approve or deny)", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/authsdk.DeviceApprovalRequest"}}
                ],
                "responses": {
                    "200": {"description": "status", "schema": {"$ref": "#/definitions/authsdk.DeviceApprovalResponse"}},
                    "400": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "401": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}},
                    "404": {"description": "error, error_description", "schema": {"$ref": "#/definitions/authsdk.ErrorResponse"}}
                }
            }
        },
        "/.well-known/oauth-authorization-server": {
            "get": {
                "description": "RFC 8414 discovery document for the broker.",
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Authorization Server Metadata",
                "responses": {
                    "200": {"description": "endpoints, grant types and PKCE methods", "schema": {"$ref": "#/definitions/authsdk.AuthorizationServerMetadata"}}
                }
            }
        },
        "/.well-known/oauth-protected-resource": {
            "get": {
                "description": "RFC 9728 document describing the MCP endpoint and the authorization server that protects it.",
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Protected Resource Metadata",
                "responses": {
                    "200": {"description": "resource, authorization_servers, scopes", "schema": {"$ref": "#/definitions/authsdk.ProtectedResourceMetadata"}}
                }
            }
        },
        "/livez": {
            "get": {
                "description": "Liveness check. Always answers 200 while the process is serving.",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health Check Endpoint",
                "responses": {
                    "200": {"description": "status, uptime, version", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}}
                }
            }
        },
        "/readyz": {
            "get": {
                "description": "Readiness check with the store check and the number of live MCP sessions.",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Readiness Check Endpoint",
                "responses": {
                    "200": {"description": "status, uptime, version, checks", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}},
                    "503": {"description": "status degraded", "schema": {"$ref": "#/definitions/authsdk.HealthResponse"}}
                }
            }
        }
    },
    "definitions": {
        "authsdk.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_description": {"type": "string"}
            }
        },
        "authsdk.TokenResponse": {
            "type": "object",
            "properties": {
                "access_token": {"type": "string"},
                "token_type": {"type": "string"},
                "expires_in": {"type": "integer"},
                "scope": {"type": "string"}
            }
        },
        "authsdk.PendingAuthorizationResponse": {
            "type": "object",
            "properties": {
                "auth_id": {"type": "string"},
                "client_id": {"type": "string"},
                "redirect_uri": {"type": "string"},
                "scopes": {"type": "array", "items": {"type": "string"}},
                "user_attached": {"type": "boolean"},
                "expires_at": {"type": "integer"}
            }
        },
        "authsdk.ConsentRequest": {
            "type": "object",
            "properties": {
                "auth_id": {"type": "string"},
                "action": {"type": "string", "enum": ["approve", "deny"]}
            }
        },
        "authsdk.ConsentResponse": {
            "type": "object",
            "properties": {
                "redirect_uri": {"type": "string"}
            }
        },
        "authsdk.DeviceAuthorizationResponse": {
            "type": "object",
            "properties": {
                "device_code": {"type": "string"},
                "user_code": {"type": "string"},
                "verification_uri": {"type": "string"},
                "verification_uri_complete": {"type": "string"},
                "expires_in": {"type": "integer"},
                "interval": {"type": "integer"}
            }
        },
        "authsdk.DeviceVerificationResponse": {
            "type": "object",
            "properties": {
                "user_code": {"type": "string"},
                "client_id": {"type": "string"},
                "scopes": {"type": "array", "items": {"type": "string"}},
                "status": {"type": "string"},
                "expires_at": {"type": "integer"}
            }
        },
        "authsdk.DeviceApprovalRequest": {
            "type": "object",
            "properties": {
                "user_code": {"type": "string"},
                "action": {"type": "string", "enum": ["approve", "deny"]}
            }
        },
        "authsdk.DeviceApprovalResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"}
            }
        },
        "authsdk.AuthorizationServerMetadata": {
            "type": "object",
            "properties": {
                "issuer": {"type": "string"},
                "authorization_endpoint": {"type": "string"},
                "token_endpoint": {"type": "string"},
                "device_authorization_endpoint": {"type": "string"},
                "scopes_supported": {"type": "array", "items": {"type": "string"}},
                "response_types_supported": {"type": "array", "items": {"type": "string"}},
                "grant_types_supported": {"type": "array", "items": {"type": "string"}},
                "code_challenge_methods_supported": {"type": "array", "items": {"type": "string"}},
                "token_endpoint_auth_methods_supported": {"type": "array", "items": {"type": "string"}}
            }
        },
        "authsdk.ProtectedResourceMetadata": {
            "type": "object",
            "properties": {
                "resource": {"type": "string"},
                "authorization_servers": {"type": "array", "items": {"type": "string"}},
                "scopes_supported": {"type": "array", "items": {"type": "string"}},
                "bearer_methods_supported": {"type": "array", "items": {"type": "string"}}
            }
        },
        "authsdk.HealthChecks": {
            "type": "object",
            "properties": {
                "store": {"type": "string"},
                "sessions": {"type": "integer"}
            }
        },
        "authsdk.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "uptime": {"type": "number"},
                "version": {"type": "string"},
                "checks": {"$ref": "#/definitions/authsdk.HealthChecks"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and the access token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "MCP Broker API",
	Description:      "OAuth 2.1 authorization server and MCP session broker in front of the main application.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
