package dispatch

// The counterparty authenticates document and chat endpoints with a bearer
// token and vector endpoints with a custom header. The asymmetry is part of
// the external protocol, so it lives in a fixed table rather than being
// unified away.

const (
	SchemeBearer        = "bearer"
	SchemeCallbackToken = "callback-token"
)

const callbackTokenHeader = "X-Callback-Token"

var endpointSchemes = map[string]string{
	"document": SchemeBearer,
	"chat":     SchemeBearer,
	"vector":   SchemeCallbackToken,
}

// SchemeFor returns the auth scheme the given endpoint kind expects.
// Unknown kinds get bearer, the protocol default.
func SchemeFor(endpointKind string) string {
	if s, ok := endpointSchemes[endpointKind]; ok {
		return s
	}
	return SchemeBearer
}

// AuthHeader renders the header key/value for a scheme and token.
func AuthHeader(scheme, token string) (key, value string) {
	if scheme == SchemeCallbackToken {
		return callbackTokenHeader, token
	}
	return "Authorization", "Bearer " + token
}
