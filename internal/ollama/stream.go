// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// maxLineBytes caps how much of a single stream line is buffered. Longer
// lines are drained and reported malformed.
const maxLineBytes = 4 << 20

// =============================================================================
// PARSE ERRORS
// =============================================================================

// StreamParseError describes a stream line that could not be decoded.
// It is never fatal: the reader skips the line and continues.
type StreamParseError struct {
	Line []byte
	Err  error
}

func (e *StreamParseError) Error() string {
	line := string(e.Line)
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return "malformed stream line " + quote(line) + ": " + e.Err.Error()
}

func (e *StreamParseError) Unwrap() error {
	return e.Err
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader handles line-by-line JSON parsing of streaming responses.
type StreamReader struct {
	reader *bufio.Reader
	model  string

	// OnMalformed is invoked for every skipped line. May be nil.
	OnMalformed func(*StreamParseError)
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReader(r)}
}

// Process reads the stream and calls the callback for each chunk.
// It returns nil after a done chunk or at end-of-stream, ctx.Err() when the
// context ends first, and a ClientError when the stream carries an error object.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := s.readChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if chunk == nil {
			continue
		}

		callback(*chunk)
		if chunk.Done {
			return nil
		}
	}
}

// readChunk reads and parses a single line from the stream.
// A nil chunk with a nil error means the line was skipped.
func (s *StreamReader) readChunk() (*StreamChunk, error) {
	line, tooLong, err := s.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) == 0 {
		return nil, io.EOF
	}

	line = bytes.TrimSpace(line)
	if tooLong {
		s.malformed(line, errors.New("line too long"))
		return nil, nil
	}
	if len(line) == 0 {
		return nil, nil
	}

	var response chatStreamLine
	if uerr := json.Unmarshal(line, &response); uerr != nil {
		s.malformed(line, uerr)
		return nil, nil
	}
	if response.Error != "" {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: response.Error}
	}

	if response.Model != "" {
		s.model = response.Model
	}

	content := response.Message.Content
	chunk := &StreamChunk{
		Content:    content,
		Done:       response.Done,
		DoneReason: response.DoneReason,
		Model:      s.model,
	}
	if response.Done {
		chunk.TotalDuration = time.Duration(response.TotalDuration)
		chunk.EvalDuration = time.Duration(response.EvalDuration)
		chunk.PromptTokens = response.PromptEvalCount
		chunk.CompletionTokens = response.EvalCount
	}
	return chunk, nil
}

// readLine reads through the next newline. At most maxLineBytes are kept;
// the rest of a longer line is discarded and tooLong is set.
func (s *StreamReader) readLine() (line []byte, tooLong bool, err error) {
	for {
		frag, rerr := s.reader.ReadSlice('\n')
		if !tooLong {
			if room := maxLineBytes - len(line); len(frag) > room {
				line = append(line, frag[:room]...)
				tooLong = true
			} else {
				line = append(line, frag...)
			}
		}
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, rerr
	}
}

func (s *StreamReader) malformed(line []byte, err error) {
	if s.OnMalformed != nil {
		s.OnMalformed(&StreamParseError{Line: append([]byte(nil), line...), Err: err})
	}
}
