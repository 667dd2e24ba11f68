package client

import (
	"errors"
	"fmt"
)

// Kinds of source failure. Every error returned by Fetcher.Fetch wraps exactly one.
var (
	ErrSourceUnreachable = errors.New("source unreachable")
	ErrSourceDecode      = errors.New("source decode failure")
)

// Causes carried alongside a kind.
var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

// SourceError describes one failed fetch.
type SourceError struct {
	Source string
	// Kind is ErrSourceUnreachable or ErrSourceDecode.
	Kind error
	Err  error
	// Snippet holds the start of the body for decode failures.
	Snippet string
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Source, e.Kind, e.Err)
}

// Unwrap exposes both kind and cause to errors.Is and errors.As.
func (e *SourceError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func unreachable(source string, err error) *SourceError {
	return &SourceError{Source: source, Kind: ErrSourceUnreachable, Err: err}
}

func decodeFailure(source string, err error, body []byte) *SourceError {
	return &SourceError{Source: source, Kind: ErrSourceDecode, Err: err, Snippet: snippet(body)}
}

const snippetLen = 128

func snippet(body []byte) string {
	if len(body) > snippetLen {
		return string(body[:snippetLen]) + "..."
	}
	return string(body)
}
