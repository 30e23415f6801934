package discovery

import "errors"

// Sentinel errors.
var (
	ErrJobNotFound         = errors.New("discovery: job not found")
	ErrJobFinished         = errors.New("discovery: job already finished")
	ErrCancelled           = errors.New("discovery: run cancelled")
	ErrUnknownManufacturer = errors.New("discovery: no adapter for manufacturer")
	ErrRemoteFetch         = errors.New("discovery: fetching remote discovery list failed")
	ErrManufacturerBusy    = errors.New("discovery: a run is already in progress for manufacturer")
)
