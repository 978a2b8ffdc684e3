package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/dineline/pkg/llm"
)

// Client is a programmable llm.Client. Nil funcs answer with the matching
// static field. Every call is counted per operation.
type Client struct {
	ClassifyFunc  func(ctx context.Context, utterance string) (string, error)
	GenerateFunc  func(ctx context.Context, messages []llm.Message) (string, error)
	ExtractFunc   func(ctx context.Context, schema string, conversation []llm.Message) (string, error)
	RewriteFunc   func(ctx context.Context, draft string, facts []string) (string, error)
	SentimentFunc func(ctx context.Context, conversation []llm.Message) (float64, error)

	Label     string
	Reply     string
	Extracted string
	Score     float64

	mu       sync.Mutex
	calls    map[string]int
	Messages [][]llm.Message
	Facts    [][]string
}

func (c *Client) count(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[op]++
}

// Calls reports how many times op ("classify", "generate", "extract",
// "rewrite", "sentiment") was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Total reports the number of calls across all operations.
func (c *Client) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *Client) Classify(ctx context.Context, utterance string) (string, error) {
	c.count("classify")
	if c.ClassifyFunc != nil {
		return c.ClassifyFunc(ctx, utterance)
	}
	return c.Label, nil
}

func (c *Client) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	c.count("generate")
	c.mu.Lock()
	c.Messages = append(c.Messages, messages)
	c.mu.Unlock()
	if c.GenerateFunc != nil {
		return c.GenerateFunc(ctx, messages)
	}
	return c.Reply, nil
}

func (c *Client) Extract(ctx context.Context, schema string, conversation []llm.Message) (string, error) {
	c.count("extract")
	if c.ExtractFunc != nil {
		return c.ExtractFunc(ctx, schema, conversation)
	}
	return c.Extracted, nil
}

func (c *Client) Rewrite(ctx context.Context, draft string, facts []string) (string, error) {
	c.count("rewrite")
	c.mu.Lock()
	c.Facts = append(c.Facts, facts)
	c.mu.Unlock()
	if c.RewriteFunc != nil {
		return c.RewriteFunc(ctx, draft, facts)
	}
	return draft, nil
}

func (c *Client) Sentiment(ctx context.Context, conversation []llm.Message) (float64, error) {
	c.count("sentiment")
	if c.SentimentFunc != nil {
		return c.SentimentFunc(ctx, conversation)
	}
	return c.Score, nil
}

var _ llm.Client = (*Client)(nil)
