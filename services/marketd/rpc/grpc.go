package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "servicemarket.v1.Market"

// Full method names.
const (
	MethodGetRegistry   = "/" + ServiceName + "/GetRegistry"
	MethodInitRegistry  = "/" + ServiceName + "/InitRegistry"
	MethodMintAsset     = "/" + ServiceName + "/MintAsset"
	MethodGetAsset      = "/" + ServiceName + "/GetAsset"
	MethodCreateListing = "/" + ServiceName + "/CreateListing"
	MethodGetListing    = "/" + ServiceName + "/GetListing"
	MethodListListings  = "/" + ServiceName + "/ListListings"
	MethodPurchase      = "/" + ServiceName + "/Purchase"
	MethodResell        = "/" + ServiceName + "/Resell"
	MethodWithdraw      = "/" + ServiceName + "/Withdraw"
	MethodDeposit       = "/" + ServiceName + "/Deposit"
	MethodGetBalance    = "/" + ServiceName + "/GetBalance"
)

// MarketServer is the server API for the Market gRPC service.
//
// Payloads are protobuf Struct values carrying the same JSON documents as the
// HTTP API, so no generated stubs are needed.
type MarketServer interface {
	GetRegistry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InitRegistry(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MintAsset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAsset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateListing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetListing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListListings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Purchase(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resell(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Withdraw(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deposit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedMarketServer can be embedded to have forward compatible implementations.
type UnimplementedMarketServer struct{}

func unimplemented(name string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", name)
}

func (UnimplementedMarketServer) GetRegistry(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("GetRegistry")
}
func (UnimplementedMarketServer) InitRegistry(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("InitRegistry")
}
func (UnimplementedMarketServer) MintAsset(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("MintAsset")
}
func (UnimplementedMarketServer) GetAsset(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("GetAsset")
}
func (UnimplementedMarketServer) CreateListing(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("CreateListing")
}
func (UnimplementedMarketServer) GetListing(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("GetListing")
}
func (UnimplementedMarketServer) ListListings(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("ListListings")
}
func (UnimplementedMarketServer) Purchase(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("Purchase")
}
func (UnimplementedMarketServer) Resell(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("Resell")
}
func (UnimplementedMarketServer) Withdraw(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("Withdraw")
}
func (UnimplementedMarketServer) Deposit(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("Deposit")
}
func (UnimplementedMarketServer) GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, unimplemented("GetBalance")
}

// RegisterMarketServer registers the Market service on a gRPC server.
func RegisterMarketServer(s grpc.ServiceRegistrar, srv MarketServer) {
	s.RegisterService(&Market_ServiceDesc, srv)
}

// MarketClient is the client API for the Market gRPC service.
type MarketClient interface {
	Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type marketClient struct{ cc grpc.ClientConnInterface }

func NewMarketClient(cc grpc.ClientConnInterface) MarketClient { return &marketClient{cc: cc} }

// Call invokes one of the Method* full method names.
func (c *marketClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type unaryCall func(MarketServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MarketServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(MarketServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Market_ServiceDesc is the grpc.ServiceDesc for the Market service.
var Market_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GetRegistry", MarketServer.GetRegistry),
		unaryMethod("InitRegistry", MarketServer.InitRegistry),
		unaryMethod("MintAsset", MarketServer.MintAsset),
		unaryMethod("GetAsset", MarketServer.GetAsset),
		unaryMethod("CreateListing", MarketServer.CreateListing),
		unaryMethod("GetListing", MarketServer.GetListing),
		unaryMethod("ListListings", MarketServer.ListListings),
		unaryMethod("Purchase", MarketServer.Purchase),
		unaryMethod("Resell", MarketServer.Resell),
		unaryMethod("Withdraw", MarketServer.Withdraw),
		unaryMethod("Deposit", MarketServer.Deposit),
		unaryMethod("GetBalance", MarketServer.GetBalance),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "servicemarket/v1/market.proto",
}
