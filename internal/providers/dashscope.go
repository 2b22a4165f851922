package providers

// DashScope is exercised as a thin constructor variant of the OpenAI-
// compatible backend, kept to preserve the teacher's multi-provider-
// same-wire-shape pattern (internal/providers/dashscope.go wrapping
// OpenAIProvider) even though this simplified Provider contract has no
// tools/thinking-budget options left to special-case.
const (
	dashscopeDefaultBase  = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
	dashscopeDefaultModel = "qwen3-max"
)

// NewDashScopeProvider returns an OpenAI-compatible backend pointed at
// DashScope's compatible-mode endpoint.
func NewDashScopeProvider(apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = dashscopeDefaultBase
	}
	if defaultModel == "" {
		defaultModel = dashscopeDefaultModel
	}
	return NewOpenAIProvider("dashscope", "DashScope (Qwen)", apiKey, apiBase, defaultModel)
}
