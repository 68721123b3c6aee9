// Package ethrpc dials JSON-RPC endpoints with go-ethereum's rpc client.
package ethrpc

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/fd1az/chain-gateway/business/provider/app"
	"github.com/fd1az/chain-gateway/business/provider/domain"
	"github.com/fd1az/chain-gateway/internal/httpclient"
)

// Dialer creates rpc clients over a tuned, instrumented HTTP transport.
type Dialer struct{}

// NewDialer creates a Dialer.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial connects to the endpoint's HTTP URL. API keys are sent as a bearer
// header when configured.
func (d *Dialer) Dial(ctx context.Context, ep domain.Endpoint) (app.RPCClient, error) {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := []rpc.ClientOption{
		rpc.WithHTTPClient(httpclient.New(httpclient.WithRequestTimeout(timeout))),
	}
	if ep.APIKey != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+ep.APIKey))
	}

	client, err := rpc.DialOptions(ctx, ep.HTTPURL, opts...)
	if err != nil {
		return nil, err
	}
	return &rpcClient{inner: client}, nil
}

type rpcClient struct {
	inner *rpc.Client
}

func (c *rpcClient) Call(ctx context.Context, result any, method string, params ...any) error {
	return c.inner.CallContext(ctx, result, method, params...)
}

func (c *rpcClient) Close() {
	c.inner.Close()
}
