package llm

import "context"

// MockProvider is a test double for completion providers.
type MockProvider struct {
	Response    string
	Err         error
	LastRequest *Request // captures the last request for inspection
}

// NewMockProvider creates a MockProvider that returns the given response.
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{Response: response}
}

func (m *MockProvider) Complete(_ context.Context, req Request) (Response, error) {
	m.LastRequest = &req
	if m.Err != nil {
		return Response{}, m.Err
	}
	return Response{
		Content:      m.Response,
		Model:        "mock",
		InputTokens:  10,
		OutputTokens: len(m.Response),
	}, nil
}

func (m *MockProvider) Models() []ModelInfo {
	return []ModelInfo{{ID: "mock", Name: "Mock Model", MaxTokens: 4096}}
}

func (m *MockProvider) HealthCheck(_ context.Context) error {
	return m.Err
}
