package wallet

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCConn holds a gRPC connection to a wallet backend. It does not
// implement Client directly because gRPC backends use generated clients;
// callers get the connection via Conn() and wrap their own stubs around it.
type GRPCConn struct {
	name     string
	endpoint string
	conn     *grpc.ClientConn
}

// NewGRPCConn dials a wallet backend. TLS is inferred from the endpoint
// scheme or a :443 suffix.
func NewGRPCConn(ctx context.Context, name, endpoint string) (*GRPCConn, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial grpc endpoint %s: %w", target, err)
	}

	return &GRPCConn{
		name:     name,
		endpoint: endpoint,
		conn:     conn,
	}, nil
}

// Name returns the connection's configured name.
func (c *GRPCConn) Name() string {
	return c.name
}

// Conn returns the underlying connection for generated clients.
func (c *GRPCConn) Conn() *grpc.ClientConn {
	return c.conn
}

// Ready probes the backend via the standard health service.
func (c *GRPCConn) Ready(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("wallet backend %s not serving: %s", c.name, resp.GetStatus())
	}
	return nil
}

// Close tears down the connection.
func (c *GRPCConn) Close() error {
	return c.conn.Close()
}
