// Package httpapi exposes the agent directory and conversation pipeline
// over JSON HTTP.
//
// Creating a conversation runs it through assignment before responding,
// so the caller immediately learns whether it went active or queued.
// Sentinel errors from the lower layers map onto conventional statuses:
// not found 404, duplicate 409, validation failures 400.
package httpapi
