// Package server exposes the foundryhub HTTP surface.
//
// The WebSocket endpoint hands upgraded connections to the hub; the REST API
// reports hub statistics, relays server-side room broadcasts, fronts the AI
// responder and reports host health. Every route sits behind CORS, the
// sliding window admission controller and a set of security headers.
package server
