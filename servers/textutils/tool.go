package textutils

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	mcp "github.com/TangGee/textutils-mcp"
)

func reverseText(_ context.Context, args mcp.ToolArguments) (mcp.CallToolResult, error) {
	runes := []rune(args.String("text"))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return mcp.TextResult("Reversed text: " + string(runes)), nil
}

func uppercaseText(_ context.Context, args mcp.ToolArguments) (mcp.CallToolResult, error) {
	return mcp.TextResult("Uppercase: " + strings.ToUpper(args.String("text"))), nil
}

func lowercaseText(_ context.Context, args mcp.ToolArguments) (mcp.CallToolResult, error) {
	return mcp.TextResult("Lowercase: " + strings.ToLower(args.String("text"))), nil
}

// wordCount counts whitespace-separated runs, so leading, trailing and repeated whitespace
// never produce empty words.
func wordCount(_ context.Context, args mcp.ToolArguments) (mcp.CallToolResult, error) {
	n := len(strings.Fields(args.String("text")))
	return mcp.TextResult(fmt.Sprintf("Word count: %d word%s", n, plural(n))), nil
}

// characterCount counts Unicode code points, spaces included.
func characterCount(_ context.Context, args mcp.ToolArguments) (mcp.CallToolResult, error) {
	n := utf8.RuneCountInString(args.String("text"))
	return mcp.TextResult(fmt.Sprintf("Character count: %d character%s", n, plural(n))), nil
}

func (r *Registry) shuffleText(_ context.Context, args mcp.ToolArguments) (mcp.CallToolResult, error) {
	runes := []rune(args.String("text"))
	swap := func(i, j int) { runes[i], runes[j] = runes[j], runes[i] }

	if r.rand == nil {
		rand.Shuffle(len(runes), swap)
	} else {
		// *rand.Rand is not safe for concurrent use.
		r.randMu.Lock()
		r.rand.Shuffle(len(runes), swap)
		r.randMu.Unlock()
	}

	return mcp.TextResult("Shuffled text: " + string(runes)), nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
