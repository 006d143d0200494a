// Package tokensource acquires firehose access tokens with the OAuth2
// resource-owner password grant.
//
// The token service is a plain OAuth2 endpoint at <host>/token expecting HTTP Basic
// client authentication and a form-encoded body:
//
//	ps := tokensource.NewPasswordGrant(tokensource.Credentials{
//		TokenAPIHost: "api.omniture.com",
//		ClientID:     "my-app-client",
//		ClientSecret: "...",
//		Username:     "me@example.com",
//		Password:     "...",
//	})
//	token, err := ps.Fetch(ctx)
//
// # Custom Base Transport
//
// Configure a custom base transport (e.g., for proxies or test servers):
//
//	ps := tokensource.NewPasswordGrant(creds, tokensource.WithTransport(customTransport))
package tokensource
