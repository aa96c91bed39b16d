package market

import "errors"

var (
	errNilState = errors.New("market engine: state not configured")

	ErrUninitialized          = errors.New("market: registry not initialised")
	ErrAlreadyInitialized     = errors.New("market: registry already initialised")
	ErrInvalidRoyalty         = errors.New("market: royalty percent must be between 0 and 100")
	ErrUnauthorized           = errors.New("market: caller not authorised")
	ErrMarketPaused           = errors.New("market: marketplace paused")
	ErrDuplicateListing       = errors.New("market: listing name already registered")
	ErrDuplicateAsset         = errors.New("market: asset name already minted")
	ErrListingNotFound        = errors.New("market: listing not found")
	ErrAssetNotFound          = errors.New("market: asset not found")
	ErrNotOwner               = errors.New("market: caller does not own the asset")
	ErrAlreadyEscrowed        = errors.New("market: asset already escrowed")
	ErrNotEscrowed            = errors.New("market: asset not held in escrow")
	ErrInvalidCapability      = errors.New("market: escrow capability rejected")
	ErrListingUnavailable     = errors.New("market: listing not in a state that allows this operation")
	ErrSoulboundNotResellable = errors.New("market: soulbound asset cannot be resold")
	ErrAssetFrozen            = errors.New("market: asset frozen")
	ErrArithmeticUnderflow    = errors.New("market: arithmetic underflow")
	ErrArithmeticOverflow     = errors.New("market: arithmetic overflow")
	ErrInsufficientFunds      = errors.New("market: insufficient funds")
	ErrInvalidName            = errors.New("market: invalid name")
	ErrInvalidDescription     = errors.New("market: description too long")
	ErrInvalidURI             = errors.New("market: invalid metadata uri")
	ErrUnsupportedAsset       = errors.New("market: unsupported payment asset")
	ErrInvalidAmount          = errors.New("market: amount must be positive")
	ErrInvalidID              = errors.New("market: invalid identifier")
)
