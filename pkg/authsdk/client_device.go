package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// StartDeviceAuthorization begins the device flow for clientID.
func (c *SDKClient) StartDeviceAuthorization(
	ctx context.Context,
	clientID string,
	scopes []string,
) (*DeviceAuthorizationResponse, error) {
	data := url.Values{"client_id": {clientID}}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	resp, err := c.postForm(ctx, "/device/code", data)
	if err != nil {
		return nil, err
	}

	var out DeviceAuthorizationResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyUserCode looks up what a user code would grant.
func (c *SDKClient) VerifyUserCode(ctx context.Context, userCode string) (*DeviceVerificationResponse, error) {
	q := url.Values{"user_code": {userCode}}
	resp, err := c.doRequest(ctx, http.MethodGet, "/device/verify?"+q.Encode(), nil, nil)
	if err != nil {
		return nil, err
	}

	var out DeviceVerificationResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecideDevice approves or denies a user code as the signed-in user.
func (c *SDKClient) DecideDevice(ctx context.Context, userToken, userCode, action string) (string, error) {
	resp, err := c.postJSON(ctx, "/device/approve", userToken, DeviceApprovalRequest{
		UserCode: userCode,
		Action:   action,
	})
	if err != nil {
		return "", err
	}

	var out DeviceApprovalResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return "", err
	}
	return out.Status, nil
}
