// Package docs registra el swagger del servicio en swag. Se mantiene a mano a partir
// de las anotaciones godoc de los handlers.
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
        "/patients": {
            "post": {"tags": ["patients"], "summary": "Register a patient (admin, hospital or receptionist)", "responses": {"201": {"description": "created"}, "403": {"description": "forbidden"}, "409": {"description": "conflict"}}}
        },
        "/patients/{patientID}/passport": {
            "get": {"tags": ["patients"], "summary": "Read a patient's passport (owner or active grant)", "parameters": [{"name": "patientID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}, "403": {"description": "no active grant"}}}
        },
        "/patients/{patientID}/grants": {
            "get": {"tags": ["access-grants"], "summary": "Grants over a patient's passport (owner or admin)", "parameters": [{"name": "patientID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}}
        },
        "/grants/{grantID}/revoke": {
            "post": {"tags": ["access-grants"], "summary": "Revoke a grant (patient owner)", "parameters": [{"name": "grantID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}}
        },
        "/me/grants": {
            "get": {"tags": ["access-grants"], "summary": "Active grants held by the caller", "responses": {"200": {"description": "ok"}}}
        },
        "/access-control/check-access/{patientID}": {
            "get": {"tags": ["access-control"], "summary": "Check whether the caller may read a patient's passport", "parameters": [{"name": "patientID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}}
        },
        "/access-control/request": {
            "post": {"tags": ["access-control"], "summary": "Create a consent request (doctor)", "responses": {"201": {"description": "created"}, "400": {"description": "invalid input"}}}
        },
        "/access-control/respond/{requestID}": {
            "post": {"tags": ["access-control"], "summary": "Approve or deny a consent request (patient)", "parameters": [{"name": "requestID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}, "409": {"description": "already resolved"}, "410": {"description": "expired"}}}
        },
        "/access-control/patient/pending": {
            "get": {"tags": ["access-control"], "summary": "Pending requests for the calling patient", "responses": {"200": {"description": "ok"}}}
        },
        "/access-control/doctor/requests": {
            "get": {"tags": ["access-control"], "summary": "Requests made by the calling doctor", "responses": {"200": {"description": "ok"}}}
        },
        "/access-control/requests/{requestID}": {
            "get": {"tags": ["access-control"], "summary": "A single request (requester or patient)", "parameters": [{"name": "requestID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}}
        },
        "/passport-access/otp/request": {
            "post": {"tags": ["passport-access"], "summary": "Email a one-time code to the patient", "responses": {"200": {"description": "ok"}, "403": {"description": "forbidden"}}}
        },
        "/passport-access/otp/verify": {
            "post": {"tags": ["passport-access"], "summary": "Verify a one-time code and obtain a grant", "responses": {"200": {"description": "ok"}, "401": {"description": "invalid or expired code"}}}
        },
        "/emergency-access/request": {
            "post": {"tags": ["emergency-access"], "summary": "Break-glass access to a patient's passport (doctor)", "responses": {"201": {"description": "created"}, "400": {"description": "invalid input"}, "503": {"description": "audit unavailable"}}}
        },
        "/emergency-access/my-history": {
            "get": {"tags": ["emergency-access"], "summary": "Emergency overrides performed by the calling doctor", "responses": {"200": {"description": "ok"}}}
        },
        "/emergency-access/audit/{patientID}": {
            "get": {"tags": ["emergency-access"], "summary": "Emergency overrides and audit entries for a patient", "parameters": [{"name": "patientID", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "ok"}}}
        },
        "/emergency-access/logs": {
            "get": {"tags": ["audit"], "summary": "Emergency audit log (admin)", "responses": {"200": {"description": "ok"}}}
        },
        "/audit-logs": {
            "get": {"tags": ["audit"], "summary": "Audit log query (admin)", "responses": {"200": {"description": "ok"}}}
        }
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Patient Passport Access API",
	Description:      "OTP, consent and emergency access to patient medical passports, with a full audit trail.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
