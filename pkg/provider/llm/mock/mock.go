// Package mock provides a scripted test double for the llm package interfaces.
//
// Script enqueues responses and errors that are popped in order by Complete,
// and every request is recorded so tests can assert on exactly what the turn
// engine sent, including the tool-result replay of the two-step protocol.
package mock

import (
	"context"
	"sync"

	"github.com/voxline-ai/voxline/pkg/provider/llm"
	"github.com/voxline-ai/voxline/pkg/types"
)

// Step is one scripted reply: either a response or an error.
type Step struct {
	Resp *llm.CompletionResponse
	Err  error
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Script is the queue of scripted steps, popped one per Complete call.
	// When the script is exhausted, Complete returns Default (or an empty
	// response if Default is nil).
	Script []Step

	// Default is returned once the script is exhausted.
	Default *llm.CompletionResponse

	// Caps is returned by Capabilities.
	Caps types.ModelCapabilities

	// Requests records every CompletionRequest passed to Complete, in order.
	Requests []llm.CompletionRequest
}

// Respond appends a successful scripted step.
func (p *Provider) Respond(resp *llm.CompletionResponse) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Script = append(p.Script, Step{Resp: resp})
	return p
}

// Fail appends a failing scripted step.
func (p *Provider) Fail(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Script = append(p.Script, Step{Err: err})
	return p
}

// Complete implements llm.Provider. It records the request and pops the next
// scripted step. If the step carries a context-cancellation sentinel the
// caller's ctx is still honoured first.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)

	if len(p.Script) > 0 {
		step := p.Script[0]
		p.Script = p.Script[1:]
		if step.Err != nil {
			return nil, step.Err
		}
		return step.Resp, nil
	}

	if p.Default != nil {
		return p.Default, nil
	}
	return &llm.CompletionResponse{}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.Caps
}

// CallCount reports the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// LastRequest returns the most recent recorded request, or a zero value if
// Complete has not been called.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return llm.CompletionRequest{}
	}
	return p.Requests[len(p.Requests)-1]
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
