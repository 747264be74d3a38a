package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/flemzord/ragchat/internal/provider"
)

type oaiStreamChunk struct {
	Choices []oaiStreamChoice `json:"choices"`
	Usage   *oaiUsage         `json:"usage,omitempty"`
}

type oaiStreamChoice struct {
	Delta        oaiStreamDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type oaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}

// maxSSELine bounds a single event line.
const maxSSELine = 1 << 20

// parseSSEStream reads an SSE body and emits StreamChunks until [DONE], EOF
// or an error. A body that ends without [DONE] or a finish reason is a
// truncated reply and yields an error chunk. The body is closed when the
// goroutine exits. Every send selects on ctx so an abandoned consumer never
// blocks it.
func parseSSEStream(ctx context.Context, body io.ReadCloser) <-chan provider.StreamChunk {
	ch := make(chan provider.StreamChunk, 16)

	go func() {
		defer close(ch)
		defer body.Close() //nolint:errcheck // best-effort close

		send := func(c provider.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var finished bool
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return
			}

			// Some servers omit the space after the colon.
			data, ok := strings.CutPrefix(scanner.Text(), "data:")
			if !ok {
				continue
			}
			data = strings.TrimPrefix(data, " ")

			if data == "[DONE]" {
				return
			}

			var chunk oaiStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				send(provider.StreamChunk{Err: fmt.Errorf("%w: parse SSE chunk: %w", provider.ErrProviderDown, err)})
				return
			}

			var sc provider.StreamChunk
			if chunk.Usage != nil {
				u := chunk.Usage.tokenUsage()
				sc.Usage = &u
			}
			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]
				sc.Content = choice.Delta.Content
				if choice.FinishReason != nil {
					sc.FinishReason = mapFinishReason(*choice.FinishReason)
					finished = true
				}
			}

			if sc.Content == "" && sc.FinishReason == "" && sc.Usage == nil {
				continue
			}
			if !send(sc) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := scanner.Err(); err != nil {
			send(provider.StreamChunk{Err: fmt.Errorf("%w: stream read error: %w", provider.ErrProviderDown, err)})
			return
		}
		if !finished {
			send(provider.StreamChunk{Err: fmt.Errorf("%w: stream ended before [DONE]", provider.ErrProviderDown)})
		}
	}()

	return ch
}
