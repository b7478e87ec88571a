package core

// ProviderType identifies one of the supported provider variants
type ProviderType string

const (
	ProviderOpenAI           ProviderType = "openai"
	ProviderClaude           ProviderType = "claude"
	ProviderGemini           ProviderType = "gemini"
	ProviderOllama           ProviderType = "ollama"
	ProviderOpenAICompatible ProviderType = "openai_compatible"
)

// ProviderTypes lists every supported variant in documentation order.
var ProviderTypes = []ProviderType{
	ProviderOpenAI,
	ProviderClaude,
	ProviderGemini,
	ProviderOllama,
	ProviderOpenAICompatible,
}

// IsValid checks the type against the closed set of variants
func (t ProviderType) IsValid() bool {
	for _, v := range ProviderTypes {
		if t == v {
			return true
		}
	}
	return false
}

// IsLocal reports whether the provider runs on the user's machine
func (t ProviderType) IsLocal() bool {
	return t == ProviderOllama
}

// Capability represents something a model can do
type Capability string

const (
	CapabilityChat   Capability = "chat"
	CapabilityCode   Capability = "code"
	CapabilityVision Capability = "vision"
	CapabilityTools  Capability = "tools"
	CapabilityJSON   Capability = "json"
)

// Role of a chat message author
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)
