package llm

import "context"

// Generator is the contract pipeline components depend on. *Client is
// the production implementation; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, req GenRequest) (string, error)
}

var _ Generator = (*Client)(nil)
