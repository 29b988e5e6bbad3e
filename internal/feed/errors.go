package feed

import "errors"

var (
	ErrInvalidURL     = errors.New("invalid feed url")
	ErrHandshake      = errors.New("feed handshake failed")
	ErrMissingChainID = errors.New("feed did not report a chain id")
	ErrInvalidChainID = errors.New("feed is not for the configured chain id")
)
