package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
)

// DeviceHandler serves the RFC 8628 endpoints used by headless clients and
// the approval page.
type DeviceHandler struct {
	DeviceService *service.DeviceService
}

// HandleCode godoc
//
//	@Summary		Device Authorization Endpoint
//	@Description	Starts the RFC 8628 device flow and returns the device code, user code and verification URIs.
//	@Tags			Device
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			client_id	formData	string								true	"Client identifier"
//	@Param			scope		formData	string								false	"Space-delimited scopes"
//	@Success		200			{object}	authsdk.DeviceAuthorizationResponse	"device_code, user_code, verification_uri, expires_in, interval"
//	@Failure		400			{object}	authsdk.ErrorResponse				"error, error_description"
//	@Router			/device/code [post]
func (h *DeviceHandler) HandleCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	dc, err := h.DeviceService.StartDeviceAuthorization(r.Context(),
		strings.TrimSpace(r.PostForm.Get("client_id")),
		r.PostForm.Get("scope"),
	)
	if err != nil {
		writeServiceError(w, r, "device authorization", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.DeviceAuthorizationResponse{
		DeviceCode:              dc.DeviceCode,
		UserCode:                dc.UserCode,
		VerificationURI:         dc.VerificationURI,
		VerificationURIComplete: dc.VerificationURIComplete,
		ExpiresIn:               int(dc.ExpiresIn.Seconds()),
		Interval:                int(dc.Interval.Seconds()),
	})
}

// HandleVerify godoc
//
//	@Summary		Verify User Code
//	@Description	Looks up what a user code would grant so the approval page can show it.
//	@Tags			Device
//	@Produce		json
//	@Param			user_code	query		string								true	"User code, any case, dash optional"	example("BCDF-GHJK")
//	@Success		200			{object}	authsdk.DeviceVerificationResponse	"client, scopes and status"
//	@Failure		400			{object}	authsdk.ErrorResponse				"error, error_description"
//	@Failure		404			{object}	authsdk.ErrorResponse				"error, error_description"
//	@Router			/device/verify [get]
func (h *DeviceHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	userCode := strings.TrimSpace(r.URL.Query().Get("user_code"))
	if userCode == "" {
		authsdk.ErrInvalidRequest.WithDescription("user_code is required").WriteError(w)
		return
	}

	dc, err := h.DeviceService.LookupUserCode(r.Context(), userCode)
	if err != nil {
		writeServiceError(w, r, "device verify", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.DeviceVerificationResponse{
		UserCode:  dc.UserCode,
		ClientID:  dc.ClientID,
		Scopes:    dc.Scopes,
		Status:    string(dc.Status),
		ExpiresAt: dc.ExpiresAt().Unix(),
	})
}

// HandleApprove godoc
//
//	@Summary		Decide Device Authorization
//	@Description	Approves or denies a user code as the signed-in main application user. The last decision wins until the device polls.
//	@Tags			Device
//	@Accept			json
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			request	body		authsdk.DeviceApprovalRequest	true	"user_code and action (approve or deny)"
//	@Success		200		{object}	authsdk.DeviceApprovalResponse	"status"
//	@Failure		400		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Failure		401		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Failure		404		{object}	authsdk.ErrorResponse			"error, error_description"
//	@Security		BearerAuth
//	@Router			/device/approve [post]
func (h *DeviceHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	params, err := httpx.ReadParams(r)
	if err != nil {
		authsdk.ErrInvalidFormBody.WriteError(w)
		return
	}

	userCode := strings.TrimSpace(params.Get("user_code"))
	if userCode == "" {
		authsdk.ErrInvalidRequest.WithDescription("user_code is required").WriteError(w)
		return
	}

	status, err := h.DeviceService.Decide(r.Context(),
		httpx.SubjectFromContext(r.Context()),
		userCode,
		strings.TrimSpace(params.Get("action")),
	)
	if err != nil {
		writeServiceError(w, r, "device approve", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.DeviceApprovalResponse{Status: string(status)})
}
