package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// Document repository sentinels.
	ErrDocumentNotFound = errors.New("document not found")
	ErrSubJobNotFound   = errors.New("sub-job not found")

	// Blob store sentinels.
	ErrBlobNotFound = errors.New("blob not found")
)
