// Package client talks to a volunteerhub server.
//
// # Overview
//
// A Client owns one session. Handshake generates an RSA key pair, sends the
// public half to the server and recovers the session id together with the
// AES secret the server sealed for it. Call then encrypts each payload with
// that secret and decrypts the reply. When the server runs in secure
// transport mode the handshake returns only an id and payloads travel as
// plain JSON.
//
// Two transports are provided: HTTPTransport for the JSON routes and
// GRPCTransport for the Struct-based gateway service.
//
// # Error Handling
//
// Refusals reported by the server come back as *APIError. Network failures
// wrap ErrUnavailable. Both can be matched with errors.Is / errors.As.
package client
