package common

const (
	// AccessTokenHeaderName is the gRPC metadata key carrying the access token.
	AccessTokenHeaderName = "access_token"

	// Default cookie names for the token pair.
	AccessTokenCookieName  = "access_token"
	RefreshTokenCookieName = "refresh_token"
)
