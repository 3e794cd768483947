package textutils

import (
	"math/rand/v2"
	"sync"

	mcp "github.com/TangGee/textutils-mcp"
)

// Registry is the static catalog of text tools. It implements mcp.ToolRegistry; the set of
// tools and their order never change after NewRegistry returns.
type Registry struct {
	tools    []mcp.Tool
	handlers map[string]mcp.ToolHandler

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures a Registry.
type Option func(*Registry)

// NewRegistry creates the registry with all six text tools.
func NewRegistry(options ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]mcp.ToolHandler),
	}
	for _, opt := range options {
		opt(r)
	}

	r.register(mcp.Tool{
		Name:        "reverse_text",
		Description: "Reverses the order of characters in the given text",
		InputSchema: reverseTextSchema,
	}, reverseText)
	r.register(mcp.Tool{
		Name:        "uppercase_text",
		Description: "Converts text to uppercase",
		InputSchema: uppercaseTextSchema,
	}, uppercaseText)
	r.register(mcp.Tool{
		Name:        "lowercase_text",
		Description: "Converts text to lowercase",
		InputSchema: lowercaseTextSchema,
	}, lowercaseText)
	r.register(mcp.Tool{
		Name:        "word_count",
		Description: "Counts the number of words in the given text",
		InputSchema: wordCountSchema,
	}, wordCount)
	r.register(mcp.Tool{
		Name:        "character_count",
		Description: "Counts the number of characters (including spaces) in the given text",
		InputSchema: characterCountSchema,
	}, characterCount)
	r.register(mcp.Tool{
		Name:        "shuffle_text",
		Description: "Randomly shuffles the characters in the given text",
		InputSchema: shuffleTextSchema,
	}, r.shuffleText)

	return r
}

// WithRand makes shuffle_text draw from rnd instead of the global source. Tests use it with a
// fixed seed to get a reproducible permutation.
func WithRand(rnd *rand.Rand) Option {
	return func(r *Registry) {
		r.rand = rnd
	}
}

// Tools implements mcp.ToolRegistry.
func (r *Registry) Tools() []mcp.Tool {
	tools := make([]mcp.Tool, len(r.tools))
	copy(tools, r.tools)
	return tools
}

// Tool implements mcp.ToolRegistry.
func (r *Registry) Tool(name string) (mcp.ToolHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Registry) register(tool mcp.Tool, handler mcp.ToolHandler) {
	r.tools = append(r.tools, tool)
	r.handlers[tool.Name] = handler
}
