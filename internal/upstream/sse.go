package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	cfx "github.com/cfx-labs/cfx/internal"
)

const maxLineSize = 64 * 1024 // 64KB per SSE line

// newScanner returns a bufio.Scanner configured for reading SSE lines.
// Each call to Scan() returns a single line without the trailing newline.
func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineSize)
	return s
}

// parseSSELine parses a single SSE line into its event type and data
// payload. It returns ok=false for empty lines, comments, and malformed
// lines.
//
// SSE format:
//
//	"event: <type>"   -> event=type, data="", ok=true
//	"data: <payload>" -> event="", data=payload, ok=true
//	": comment"       -> ok=false (comment)
//	""                -> ok=false (empty)
func parseSSELine(line string) (event, data string, ok bool) {
	if line == "" {
		return "", "", false
	}
	// SSE comments start with ':'
	if line[0] == ':' {
		return "", "", false
	}

	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	// Strip optional leading space after colon per SSE spec
	value = strings.TrimPrefix(value, " ")

	switch key {
	case "event":
		return value, "", true
	case "data":
		return "", value, true
	default:
		return "", "", false
	}
}

// readSSEStream reads SSE lines from resp and sends their payloads as
// StreamChunks on ch. The "[DONE]" sentinel ends the stream without being
// forwarded; usage is extracted from the chunk that carries it. The
// channel is closed when done. If the request context ends mid-stream the
// reader stops silently; the consumer observed the cancellation itself.
func readSSEStream(ctx context.Context, resp *http.Response, ch chan<- cfx.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := newScanner(resp.Body)
	for scanner.Scan() {
		_, data, ok := parseSSELine(scanner.Text())
		if !ok || data == "" {
			continue
		}
		if data == "[DONE]" {
			return
		}

		chunk := cfx.StreamChunk{Data: []byte(data)}
		// Extract usage from the final chunk if present.
		if u := gjson.GetBytes(chunk.Data, "usage"); u.Exists() && u.Type == gjson.JSON {
			var usage cfx.Usage
			if json.Unmarshal([]byte(u.Raw), &usage) == nil && usage.TotalTokens > 0 {
				chunk.Usage = &usage
			}
		}

		select {
		case ch <- chunk:
		case <-ctx.Done():
			// Consumer is gone with the request; nothing left to tell it.
			return
		}
	}
	if err := scanner.Err(); err != nil {
		chunk := cfx.StreamChunk{Err: fmt.Errorf("%s: read stream: %w", upstreamName, err)}
		select {
		case ch <- chunk:
		default:
			// Buffer full: wait for the consumer to catch up, but drop the
			// terminal error rather than leak if the request is already gone.
			select {
			case ch <- chunk:
			case <-ctx.Done():
			}
		}
	}
}
