// ABOUTME: Server-sent-event framing for provider streams
// ABOUTME: Splits the body on blank lines and classifies each frame's data payload

package relay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// maxFrameSize bounds a single frame. Larger frames are a protocol error.
const maxFrameSize = 1024 * 1024

// FrameKind classifies a parsed frame.
type FrameKind int

const (
	// FrameIgnored has no data: line (comments, event-only frames).
	FrameIgnored FrameKind = iota
	// FrameDone is the [DONE] terminal sentinel.
	FrameDone
	// FrameEmpty is valid JSON with no non-empty content fragment.
	FrameEmpty
	// FrameDelta carries a content fragment.
	FrameDelta
)

func (k FrameKind) String() string {
	switch k {
	case FrameIgnored:
		return "ignored"
	case FrameDone:
		return "done"
	case FrameEmpty:
		return "empty"
	case FrameDelta:
		return "delta"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one parsed server-sent event.
type Frame struct {
	Kind  FrameKind
	Delta string
}

// streamChunk is the JSON envelope of a streaming data frame.
type streamChunk struct {
	Choices []struct {
		Delta *struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *providerErrorBody `json:"error"`
}

type providerErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewFrameScanner returns a scanner that yields one raw frame per Scan.
// A trailing partial frame at EOF is discarded.
func NewFrameScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	scanner.Split(splitFrames)
	return scanner
}

func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if i, n := frameBoundary(data); i >= 0 {
		return i + n, data[:i], nil
	}
	if atEOF {
		// Drop whatever is left: it never saw its delimiter.
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// frameBoundary returns the index and length of the first blank-line
// delimiter in data, or -1.
func frameBoundary(data []byte) (int, int) {
	lf := bytes.Index(data, []byte("\n\n"))
	crlf := bytes.Index(data, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

// ParseFrame classifies one raw frame. A frame that does not begin with
// data: is ignored whatever it carries. Multiple data: lines are joined
// with a newline as server-sent events define.
func ParseFrame(raw []byte) (Frame, error) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "data:") {
		return Frame{Kind: FrameIgnored}, nil
	}

	var data []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimPrefix(line, "data:")
		data = append(data, strings.TrimPrefix(line, " "))
	}
	if len(data) == 0 {
		return Frame{Kind: FrameIgnored}, nil
	}

	payload := strings.TrimSpace(strings.Join(data, "\n"))
	if payload == "[DONE]" {
		return Frame{Kind: FrameDone}, nil
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if chunk.Error != nil && chunk.Error.Message != "" {
		return Frame{}, &ProviderError{Message: chunk.Error.Message, Body: payload}
	}

	for _, choice := range chunk.Choices {
		if choice.Delta != nil && choice.Delta.Content != nil && *choice.Delta.Content != "" {
			return Frame{Kind: FrameDelta, Delta: *choice.Delta.Content}, nil
		}
	}
	return Frame{Kind: FrameEmpty}, nil
}
