/*
Package authsdk is a client SDK for the MCP broker's OAuth endpoints and its
JSON-RPC transport, plus the wire types both sides share.

# Browser Flow

An MCP client starts the authorization code flow with PKCE (S256 only):

	client := authsdk.NewSDKClient("https://mcp.example.com")
	pkce, _ := authsdk.GeneratePKCEChallenge()

	authURL := client.BuildAuthorizeURL(authsdk.AuthorizeRequest{
		ClientID:    "my-agent",
		RedirectURI: "http://127.0.0.1:8976/callback",
		State:       state,
		PKCE:        pkce,
	})
	// Open authURL in the browser. After consent the browser lands on the
	// redirect URI with ?code=...&state=...

	code, gotState, err := authsdk.ParseAuthorizationCallback(callbackURL)
	tok, err := client.ExchangeAuthorizationCode(ctx, "my-agent", redirectURI, code, pkce.Verifier)

The consent page itself uses GetPendingAuthorization and Consent with the
signed-in user's main application token.

# Device Flow

	dev, err := client.StartDeviceAuthorization(ctx, "my-cli", nil)
	fmt.Println("Visit", dev.VerificationURIComplete)
	tok, err := client.PollDeviceToken(ctx, "my-cli", dev)

# Assertion Grant

A first-party integration already holding a main application token can
trade it directly:

	tok, err := client.ExchangeAssertion(ctx, "my-integration", mainAppToken, nil)

# MCP Calls

	mcp := client.MCP("/mcp", tok.AccessToken)
	var tools struct{ Tools []json.RawMessage `json:"tools"` }
	err := mcp.Call(ctx, "tools/list", nil, &tools)

# Errors

Every OAuth failure is returned as *OAuth2Error and matches the predefined
values with errors.Is:

	if errors.Is(err, authsdk.ErrInvalidGrant) {
		// re-run the authorization flow
	}

JSON-RPC failures are returned as *RPCError.
*/
package authsdk
