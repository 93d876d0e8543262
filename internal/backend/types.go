package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials means no API key is configured; network calls are not attempted.
	ErrMissingCredentials = errors.New("backend credentials missing")

	// ErrMalformedResponse means a successful response had an unexpected shape.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// StatusError is a non-retryable 4xx answer from the backend.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// errorResponse is the PostgREST error body.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// CredentialSource yields the API key sent as both apikey and bearer token.
type CredentialSource interface {
	Resolve(ctx context.Context) (string, error)
}

// invalidator is implemented by sources that cache credentials.
type invalidator interface {
	Invalidate()
}

// StaticKey is a CredentialSource for a fixed key. An empty key reports missing credentials.
type StaticKey string

func (k StaticKey) Resolve(context.Context) (string, error) {
	if k == "" {
		return "", ErrMissingCredentials
	}
	return string(k), nil
}

// Filter is one PostgREST horizontal filter, e.g. Player=eq.Market.
type Filter struct {
	Column string
	Op     string
	Value  string
}

func Eq(column, value string) Filter  { return Filter{Column: column, Op: "eq", Value: value} }
func Neq(column, value string) Filter { return Filter{Column: column, Op: "neq", Value: value} }
