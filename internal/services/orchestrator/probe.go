package orchestrator

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// Prober checks that an MCP endpoint answers the protocol handshake
type Prober interface {
	Probe(ctx context.Context, address string) error
}

// MCPProber performs initialize and ping over streamable HTTP
type MCPProber struct {
	Path string
}

func (p MCPProber) Probe(ctx context.Context, address string) error {
	path := p.Path
	if path == "" {
		path = "/mcp"
	}

	c, err := client.NewStreamableHttpClient(fmt.Sprintf("http://%s%s", address, path))
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP transport: %w", err)
	}

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "mymcp-health",
				Version: "1.0.0",
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping MCP server: %w", err)
	}
	return nil
}

type probingOrchestrator struct {
	Orchestrator
	prober Prober
	logger *zap.Logger
}

// WithProbe downgrades Running containers that fail the MCP handshake to Degraded
func WithProbe(next Orchestrator, prober Prober, logger *zap.Logger) Orchestrator {
	return &probingOrchestrator{Orchestrator: next, prober: prober, logger: logger}
}

func (p *probingOrchestrator) GetHealth(ctx context.Context, instanceID string) (*HealthResult, error) {
	res, err := p.Orchestrator.GetHealth(ctx, instanceID)
	if err != nil || res.Status != ContainerRunning || res.Address == "" {
		return res, err
	}

	if err := p.prober.Probe(ctx, res.Address); err != nil {
		p.logger.Warn("MCP probe failed",
			zap.String("instance_id", instanceID),
			zap.String("address", res.Address),
			zap.Error(err))
		res.IsHealthy = false
		res.Status = ContainerDegraded
		res.Message = err.Error()
	}
	return res, nil
}
