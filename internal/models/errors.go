package models

import "errors"

// Failure taxonomy shared by every component. Wrapped errors keep these as their root so
// callers branch with errors.Is.
var (
	// ErrUpstreamUnavailable: network failure or non-success status from the market provider.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrStoreUnavailable: snapshot store or fast cache tier unreachable or misconfigured.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDataInsufficient: fetched or cached count below the sufficiency threshold.
	ErrDataInsufficient = errors.New("data insufficient")

	// ErrPartialWrite: some of several parallel writes failed while siblings succeeded.
	ErrPartialWrite = errors.New("partial write failure")

	// ErrNoRecords: a refresh fetched nothing; the previous cache is left untouched.
	ErrNoRecords = errors.New("no records fetched")

	// ErrRefreshInProgress: another refresh holds the single-flight guard.
	ErrRefreshInProgress = errors.New("refresh already in progress")

	// ErrCacheMiss: no tier holds a usable entry.
	ErrCacheMiss = errors.New("cache miss")
)
