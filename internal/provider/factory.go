package provider

// AnthropicFactory constructs AnthropicProvider instances for the registry.
type AnthropicFactory struct {
	factoryName string
}

func NewAnthropicFactory(name string) AnthropicFactory { return AnthropicFactory{factoryName: name} }

func (f AnthropicFactory) Name() string { return f.factoryName }

func (f AnthropicFactory) Create(model string, opts Options) Provider {
	return NewAnthropic(f.factoryName, model, opts)
}

// OpenAIFactory constructs OpenAIProvider instances for the registry.
type OpenAIFactory struct {
	factoryName string
}

func NewOpenAIFactory(name string) OpenAIFactory { return OpenAIFactory{factoryName: name} }

func (f OpenAIFactory) Name() string { return f.factoryName }

func (f OpenAIFactory) Create(model string, opts Options) Provider {
	return NewOpenAI(f.factoryName, model, opts)
}
