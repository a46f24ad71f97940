package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrStorageIO is a permission or disk failure while reading or writing persisted state
	ErrStorageIO = goerr.New("storage I/O failure")

	// ErrStorageCorruption marks persisted state that could not be decoded
	ErrStorageCorruption = goerr.New("storage corruption")

	ErrGenerationFailed  = goerr.New("generation service failed")
	ErrGenerationTimeout = goerr.New("generation service timed out")

	ErrTransportNotReady = goerr.New("transport is not ready")
	ErrSendFailed        = goerr.New("failed to send message")

	ErrInvalidContactID = goerr.New("invalid contact id")
)
