package rpc

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"servicemarket/crypto"
)

// Client calls the Market service with JSON-shaped requests.
type Client struct {
	cc     *grpc.ClientConn
	client MarketClient

	// Principal is sent as metadata when set and Token is empty.
	Principal [20]byte
	// Token is sent as a bearer authorization header when non-empty.
	Token string
	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration
	Extra   []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewMarketClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Call sends in (any JSON-encodable value) to method and decodes the reply
// into out when out is non-nil.
func (c *Client) Call(ctx context.Context, method string, in, out any) error {
	req, err := encodeStruct(in)
	if err != nil {
		return err
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	switch {
	case c.Token != "":
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.Token)
	case c.Principal != [20]byte{}:
		ctx = metadata.AppendToOutgoingContext(ctx, PrincipalMetadataKey, crypto.FormatPrincipal(c.Principal))
	}
	reply, err := c.client.Call(ctx, method, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decodeReply(reply, out)
}

func decodeReply(reply *structpb.Struct, out any) error {
	raw, err := json.Marshal(reply.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
