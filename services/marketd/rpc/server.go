package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"servicemarket/crypto"
	"servicemarket/gateway/middleware"
	"servicemarket/observability"
	"servicemarket/services/marketd/api"
)

// PrincipalMetadataKey carries the caller when bearer auth is disabled.
const PrincipalMetadataKey = "x-market-principal"

// Server implements MarketServer on top of the shared API service.
type Server struct {
	UnimplementedMarketServer
	service *api.Service
	auth    *middleware.Authenticator
	scopes  []string
	logger  *slog.Logger
}

// NewServer wires the gRPC surface. A nil authenticator accepts the principal
// from metadata.
func NewServer(service *api.Service, auth *middleware.Authenticator, writeScopes []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: service,
		auth:    auth,
		scopes:  writeScopes,
		logger:  logger.With(slog.String("component", "grpc")),
	}
}

// NewGRPCServer builds a grpc.Server with tracing, metrics and caller
// resolution interceptors and registers srv on it.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	options := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			otelgrpc.UnaryServerInterceptor(),
			srv.metricsInterceptor(),
			srv.authInterceptor(),
		),
	}, opts...)
	grpcServer := grpc.NewServer(options...)
	RegisterMarketServer(grpcServer, srv)
	return grpcServer
}

// Serve runs grpcServer on address until ctx ends, then stops gracefully.
func Serve(ctx context.Context, grpcServer *grpc.Server, address string, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("grpc listening", slog.String("address", address))
		serverErr <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn("forcing grpc stop")
			grpcServer.Stop()
		}
		return ctx.Err()
	case err := <-serverErr:
		return err
	}
}

func isWriteMethod(fullMethod string) bool {
	switch fullMethod {
	case MethodInitRegistry, MethodMintAsset, MethodCreateListing,
		MethodPurchase, MethodResell, MethodWithdraw, MethodDeposit:
		return true
	default:
		return false
	}
}

func (s *Server) authInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !isWriteMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		principal, err := s.resolvePrincipal(ctx)
		if err != nil {
			return nil, err
		}
		return handler(middleware.WithPrincipal(ctx, principal), req)
	}
}

func (s *Server) resolvePrincipal(ctx context.Context) ([20]byte, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if s.auth != nil && s.auth.Enabled() {
		for _, header := range md.Get("authorization") {
			scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				continue
			}
			principal, _, err := s.auth.Authenticate(strings.TrimSpace(token), s.scopes...)
			if errors.Is(err, middleware.ErrInsufficientScope) {
				return [20]byte{}, status.Error(codes.PermissionDenied, "insufficient scope")
			}
			if err != nil {
				s.logger.Warn("token validation failed", slog.Any("error", err))
				return [20]byte{}, status.Error(codes.Unauthenticated, "invalid token")
			}
			return principal, nil
		}
		return [20]byte{}, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	values := md.Get(PrincipalMetadataKey)
	if len(values) == 0 {
		return [20]byte{}, status.Error(codes.Unauthenticated, "caller principal required")
	}
	principal, err := crypto.ParsePrincipal(strings.TrimSpace(values[0]))
	if err != nil {
		return [20]byte{}, status.Error(codes.InvalidArgument, "invalid principal metadata")
	}
	return principal, nil
}

func (s *Server) metricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observability.ModuleMetrics().Observe("grpc", info.FullMethod, httpStatus(status.Code(err)), time.Since(start))
		return resp, err
	}
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Canceled:
		return 499
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, _, grpcCode := api.Classify(err)
	if grpcCode == codes.Internal {
		s.logger.Error("rpc failed", slog.Any("error", err))
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(grpcCode, code+": "+err.Error())
}

func decodeStruct(in *structpb.Struct, dst any) error {
	if in == nil || len(in.GetFields()) == 0 {
		return nil
	}
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", api.ErrInvalidRequest, err)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

func callerFrom(ctx context.Context) ([20]byte, error) {
	principal, ok := middleware.PrincipalFromContext(ctx)
	if !ok || principal == ([20]byte{}) {
		return [20]byte{}, api.ErrMissingPrincipal
	}
	return principal, nil
}

// invoke decodes the request, runs fn and encodes its result.
func invoke[Req any, Resp any](s *Server, ctx context.Context, in *structpb.Struct, write bool, fn func(caller [20]byte, req Req) (Resp, error)) (*structpb.Struct, error) {
	var caller [20]byte
	if write {
		var err error
		if caller, err = callerFrom(ctx); err != nil {
			return nil, s.toStatus(err)
		}
	}
	var req Req
	if err := decodeStruct(in, &req); err != nil {
		return nil, s.toStatus(err)
	}
	resp, err := fn(caller, req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	out, err := encodeStruct(resp)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return out, nil
}

type listingRef struct {
	Listing string `json:"listing"`
}

type resellRequest struct {
	Listing string `json:"listing"`
	api.ResellRequest
}

type idRef struct {
	ID string `json:"id"`
}

type listFilter struct {
	Status string `json:"status"`
}

type balanceQuery struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

type listingsReply struct {
	Listings []api.ListingView `json:"listings"`
}

func (s *Server) GetRegistry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, false, func(_ [20]byte, _ struct{}) (api.RegistryView, error) {
		return s.service.Registry()
	})
}

func (s *Server) InitRegistry(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, true, s.service.InitRegistry)
}

func (s *Server) MintAsset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, true, s.service.MintAsset)
}

func (s *Server) GetAsset(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, false, func(_ [20]byte, req idRef) (api.AssetView, error) {
		return s.service.Asset(req.ID)
	})
}

func (s *Server) CreateListing(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, true, s.service.CreateListing)
}

func (s *Server) GetListing(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, false, func(_ [20]byte, req listingRef) (api.ListingView, error) {
		return s.service.Listing(req.Listing)
	})
}

func (s *Server) ListListings(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, false, func(_ [20]byte, req listFilter) (listingsReply, error) {
		views, err := s.service.Listings(req.Status)
		return listingsReply{Listings: views}, err
	})
}

func (s *Server) Purchase(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, true, func(caller [20]byte, req listingRef) (api.ReceiptView, error) {
		return s.service.Purchase(caller, req.Listing)
	})
}

func (s *Server) Resell(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, true, func(caller [20]byte, req resellRequest) (api.ReceiptView, error) {
		return s.service.Resell(caller, req.Listing, req.ResellRequest)
	})
}

func (s *Server) Withdraw(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, true, func(caller [20]byte, req listingRef) (api.ListingView, error) {
		return s.service.Withdraw(caller, req.Listing)
	})
}

func (s *Server) Deposit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, true, s.service.Deposit)
}

func (s *Server) GetBalance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return invoke(s, ctx, in, false, func(_ [20]byte, req balanceQuery) (api.BalanceView, error) {
		return s.service.Balance(req.Account, req.Asset)
	})
}
