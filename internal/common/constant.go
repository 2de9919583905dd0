// Package common contains shared constants and sentinel errors used across
// the volunteerhub server and client.
package common

// APIVersion is reported to clients in every handshake response.
const APIVersion = "0.0.2"

// SessionMetadataKey is the gRPC metadata key carrying the session id.
const SessionMetadataKey = "session"

// DefaultCaptchaURL is the Cloudflare Turnstile siteverify endpoint.
const DefaultCaptchaURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// gRPC gateway service and method names shared by server and client.
const (
	GatewayService            = "volunteerhub.Gateway"
	GatewayMethodHandshake    = "/" + GatewayService + "/Handshake"
	GatewayMethodCall         = "/" + GatewayService + "/Call"
	GatewayMethodCloseSession = "/" + GatewayService + "/CloseSession"
)
