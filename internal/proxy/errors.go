package proxy

import "errors"

var (
	// ErrUnknownRegion is returned when the requested region is not configured.
	ErrUnknownRegion = errors.New("invalid region, use /regions to list available regions")
	// ErrNoHealthyEndpoints is returned once every region and attempt is exhausted.
	ErrNoHealthyEndpoints = errors.New("no healthy proxy endpoints available across all regions")
	// ErrInvalidURL is returned for target URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("url must be an absolute http or https URL")
)
