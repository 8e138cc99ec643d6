package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentloop/agentloop/internal/extract"
)

// MockCall records one invocation against a Mock backend.
type MockCall struct {
	Kind          string // "agent" or "prompt"
	AgentSpecPath string
	Prompt        string
	Context       map[string]any
	SystemPrompt  string
}

// Mock is a scripted backend for tests and dry runs. Responses are keyed by
// the agent definition file stem; unscripted agents get a generic success.
// It records every call for assertions and is always available.
type Mock struct {
	mu        sync.Mutex
	responses map[string]string
	results   map[string]Result
	history   []MockCall
}

// NewMock constructs a mock backend with optional canned text responses
// keyed by agent stem.
func NewMock(responses map[string]string) *Mock {
	if responses == nil {
		responses = map[string]string{}
	}
	return &Mock{
		responses: responses,
		results:   map[string]Result{},
	}
}

// ScriptResult registers a full Result for an agent stem, overriding any
// text response. Useful for simulating failures and timeouts.
func (m *Mock) ScriptResult(agentStem string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[agentStem] = result
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Available() bool { return true }

func (m *Mock) Invoke(_ context.Context, inv Invocation) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, MockCall{
		Kind:          "agent",
		AgentSpecPath: inv.AgentSpecPath,
		Prompt:        inv.Prompt,
		Context:       inv.Context,
	})

	stem := strings.TrimSuffix(filepath.Base(inv.AgentSpecPath), filepath.Ext(inv.AgentSpecPath))
	if result, ok := m.results[stem]; ok {
		return result
	}
	if response, ok := m.responses[stem]; ok {
		return Success(response, extract.FirstJSON(response), nil)
	}
	return Success(fmt.Sprintf("mock response for agent: %s", filepath.Base(inv.AgentSpecPath)), nil, nil)
}

func (m *Mock) InvokeRaw(_ context.Context, prompt, systemPrompt string, _ time.Duration) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, MockCall{
		Kind:         "prompt",
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
	})
	return Success("mock response", nil, nil)
}

// History returns a copy of the recorded calls.
func (m *Mock) History() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.history))
	copy(out, m.history)
	return out
}
