package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"servicemarket/gateway/middleware"
	"servicemarket/observability/logging"
	"servicemarket/services/marketd/api"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body, status := api.NewErrorBody(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("route", r.URL.Path),
			logging.MaskField("authorization", r.Header.Get("Authorization")),
			slog.Any("error", err),
		)
	}
	s.writeJSON(w, status, body)
}

func decodeBody(r *http.Request, w http.ResponseWriter, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, api.ErrInvalidRequest) {
			return err
		}
		return fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}
	return nil
}

func callerFrom(r *http.Request) ([20]byte, error) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal == ([20]byte{}) {
		return [20]byte{}, api.ErrMissingPrincipal
	}
	return principal, nil
}

// mutate runs a handler that needs the caller and a decoded body.
func mutate[Req any, Resp any](s *Server, status int, fn func(r *http.Request, caller [20]byte, req Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := callerFrom(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req Req
		if err := decodeBody(r, w, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := fn(r, caller, req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, status, resp)
	}
}

type empty struct{}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Registry()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleInitRegistry(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusCreated, func(_ *http.Request, caller [20]byte, req api.InitRegistryRequest) (api.RegistryView, error) {
		return s.service.InitRegistry(caller, req)
	})(w, r)
}

func (s *Server) handleUpdateRoyalty(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusOK, func(_ *http.Request, caller [20]byte, req api.UpdateRoyaltyRequest) (api.RegistryView, error) {
		return s.service.UpdateRoyalty(caller, req)
	})(w, r)
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusOK, func(_ *http.Request, caller [20]byte, req api.SetPausedRequest) (api.RegistryView, error) {
		return s.service.SetPaused(caller, req)
	})(w, r)
}

func (s *Server) handleMintAsset(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusCreated, func(_ *http.Request, caller [20]byte, req api.MintAssetRequest) (api.AssetView, error) {
		return s.service.MintAsset(caller, req)
	})(w, r)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Asset(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTransferAsset(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusOK, func(r *http.Request, caller [20]byte, req api.TransferAssetRequest) (api.AssetView, error) {
		req.AssetID = chi.URLParam(r, "id")
		return s.service.TransferAsset(caller, req)
	})(w, r)
}

func (s *Server) handleFreezeAsset(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusOK, func(r *http.Request, caller [20]byte, req api.FreezeAssetRequest) (api.AssetView, error) {
		req.AssetID = chi.URLParam(r, "id")
		return s.service.FreezeAsset(caller, req)
	})(w, r)
}

func (s *Server) handleGetHolding(w http.ResponseWriter, r *http.Request) {
	view, ok, err := s.service.Holding(chi.URLParam(r, "assetID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusNotFound, api.ErrorBody{Error: api.ErrorDetail{Code: "not_escrowed", Message: "asset not in escrow"}})
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusCreated, func(_ *http.Request, caller [20]byte, req api.CreateListingRequest) (api.ListingView, error) {
		return s.service.CreateListing(caller, req)
	})(w, r)
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	views, err := s.service.Listings(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"listings": views})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Listing(chi.URLParam(r, "ref"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusOK, func(r *http.Request, caller [20]byte, _ empty) (api.ReceiptView, error) {
		return s.service.Purchase(caller, chi.URLParam(r, "ref"))
	})(w, r)
}

func (s *Server) handleResell(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusOK, func(r *http.Request, caller [20]byte, req api.ResellRequest) (api.ReceiptView, error) {
		return s.service.Resell(caller, chi.URLParam(r, "ref"), req)
	})(w, r)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusOK, func(r *http.Request, caller [20]byte, _ empty) (api.ListingView, error) {
		return s.service.Withdraw(caller, chi.URLParam(r, "ref"))
	})(w, r)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusOK, func(_ *http.Request, caller [20]byte, req api.DepositRequest) (api.BalanceView, error) {
		return s.service.Deposit(caller, req)
	})(w, r)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(r.URL.Query().Get("asset"))
	view, err := s.service.Balance(chi.URLParam(r, "account"), asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTreasury(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Treasury(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTreasuryWithdraw(w http.ResponseWriter, r *http.Request) {
	mutate(s, http.StatusOK, func(_ *http.Request, caller [20]byte, req api.TreasuryWithdrawRequest) (api.BalanceView, error) {
		return s.service.WithdrawTreasury(caller, req)
	})(w, r)
}
