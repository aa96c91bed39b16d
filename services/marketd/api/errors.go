package api

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"servicemarket/native/market"
)

// ErrMissingPrincipal is returned when a mutating call carries no caller.
var ErrMissingPrincipal = errors.New("api: caller principal required")

// ErrInvalidRequest wraps malformed request payloads.
var ErrInvalidRequest = errors.New("api: invalid request")

type errorMapping struct {
	target error
	code   string
	status int
	grpc   codes.Code
}

var errorTable = []errorMapping{
	{market.ErrUninitialized, "uninitialized", http.StatusPreconditionFailed, codes.FailedPrecondition},
	{market.ErrAlreadyInitialized, "already_initialized", http.StatusConflict, codes.AlreadyExists},
	{market.ErrDuplicateListing, "duplicate_listing", http.StatusConflict, codes.AlreadyExists},
	{market.ErrDuplicateAsset, "duplicate_asset", http.StatusConflict, codes.AlreadyExists},
	{market.ErrListingNotFound, "listing_not_found", http.StatusNotFound, codes.NotFound},
	{market.ErrAssetNotFound, "asset_not_found", http.StatusNotFound, codes.NotFound},
	{market.ErrNotOwner, "not_owner", http.StatusForbidden, codes.PermissionDenied},
	{market.ErrUnauthorized, "unauthorized", http.StatusForbidden, codes.PermissionDenied},
	{market.ErrInvalidCapability, "invalid_capability", http.StatusForbidden, codes.PermissionDenied},
	{market.ErrMarketPaused, "market_paused", http.StatusServiceUnavailable, codes.Unavailable},
	{market.ErrAlreadyEscrowed, "already_escrowed", http.StatusConflict, codes.FailedPrecondition},
	{market.ErrNotEscrowed, "not_escrowed", http.StatusConflict, codes.FailedPrecondition},
	{market.ErrListingUnavailable, "listing_unavailable", http.StatusConflict, codes.FailedPrecondition},
	{market.ErrSoulboundNotResellable, "soulbound_not_resellable", http.StatusConflict, codes.FailedPrecondition},
	{market.ErrAssetFrozen, "asset_frozen", http.StatusConflict, codes.FailedPrecondition},
	{market.ErrInsufficientFunds, "insufficient_funds", http.StatusPaymentRequired, codes.FailedPrecondition},
	{market.ErrArithmeticOverflow, "arithmetic_overflow", http.StatusUnprocessableEntity, codes.OutOfRange},
	{market.ErrArithmeticUnderflow, "arithmetic_underflow", http.StatusUnprocessableEntity, codes.OutOfRange},
	{market.ErrInvalidRoyalty, "invalid_royalty", http.StatusBadRequest, codes.InvalidArgument},
	{market.ErrInvalidName, "invalid_name", http.StatusBadRequest, codes.InvalidArgument},
	{market.ErrInvalidDescription, "invalid_description", http.StatusBadRequest, codes.InvalidArgument},
	{market.ErrInvalidURI, "invalid_uri", http.StatusBadRequest, codes.InvalidArgument},
	{market.ErrUnsupportedAsset, "unsupported_asset", http.StatusBadRequest, codes.InvalidArgument},
	{market.ErrInvalidAmount, "invalid_amount", http.StatusBadRequest, codes.InvalidArgument},
	{market.ErrInvalidID, "invalid_id", http.StatusBadRequest, codes.InvalidArgument},
	{ErrInvalidRequest, "invalid_request", http.StatusBadRequest, codes.InvalidArgument},
	{ErrMissingPrincipal, "unauthenticated", http.StatusUnauthorized, codes.Unauthenticated},
}

// Classify maps err onto a stable error code, HTTP status and gRPC code.
func Classify(err error) (string, int, codes.Code) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.code, m.status, m.grpc
		}
	}
	return "internal", http.StatusInternalServerError, codes.Internal
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorBody renders err for clients. Internal errors hide their detail.
func NewErrorBody(err error) (ErrorBody, int) {
	code, status, _ := Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	return ErrorBody{Error: ErrorDetail{Code: code, Message: message}}, status
}
