// File: internal/llm/analysts_test.go
package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVisionClientAnalyze(t *testing.T) {
	t.Run("trims and returns the analysis", func(t *testing.T) {
		client := &fakeChatClient{name: "groq-vision", images: true, replies: []string{"  A red tile sits over slot B.  \n"}}
		v := NewVisionClient(client, "llama-4-scout", zap.NewNop())

		analysis, err := v.Analyze(context.Background(), VisionPrompt(""), "aGVsbG8=")
		require.NoError(t, err)
		assert.Equal(t, "A red tile sits over slot B.", analysis)

		req := client.requests[0]
		assert.Equal(t, "llama-4-scout", req.Model)
		assert.Equal(t, "aGVsbG8=", req.ImagePNG)
	})

	t.Run("rejects an empty screenshot", func(t *testing.T) {
		v := NewVisionClient(&fakeChatClient{name: "x"}, "m", zap.NewNop())
		_, err := v.Analyze(context.Background(), "prompt", "")
		require.Error(t, err)
		assert.Equal(t, KindNoContent, KindOf(err))
	})
}

func TestSearchClientSearch(t *testing.T) {
	t.Run("wraps the question in the search prompt", func(t *testing.T) {
		client := &fakeChatClient{name: "search", replies: []string{"Paris."}}
		s := NewSearchClient(client, "compound-beta", zap.NewNop())

		answer, err := s.Search(context.Background(), "What is the capital of France?", "page text")
		require.NoError(t, err)
		assert.Equal(t, "Paris.", answer)

		req := client.requests[0]
		assert.Equal(t, "compound-beta", req.Model)
		assert.Contains(t, req.UserText, "What is the capital of France?")
		assert.Contains(t, req.UserText, "Page context:")
	})

	t.Run("rejects an empty question", func(t *testing.T) {
		s := NewSearchClient(&fakeChatClient{name: "x"}, "m", zap.NewNop())
		_, err := s.Search(context.Background(), "", "")
		require.Error(t, err)
	})
}
