// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/ollamabro/internal/ollama"
)

const (
	// CancelledAnnotation is appended to replies stopped by the user.
	CancelledAnnotation = "\n\n[Response cancelled by user]"
)

// ErrSessionActive is returned when a prompt is submitted while another is
// still in flight.
var ErrSessionActive = errors.New("a response is already streaming")

// ValidationError rejects a request before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ErrorAnnotation formats the suffix stored after a failed reply.
func ErrorAnnotation(err error) string {
	return "\n\n[Error: " + ErrorText(err) + "]"
}

// ErrorText is the message shown for a failed reply. Status errors carry
// the upstream error field as their message.
func ErrorText(err error) string {
	var ce *ollama.ClientError
	if errors.As(err, &ce) && ce.Type == ollama.ErrTypeHTTPStatus && ce.Message != "" {
		return ce.Message
	}
	switch {
	case ollama.IsNotRunning(err):
		return "cannot reach the relay; is \"ollamabro relay\" running?"
	case ollama.IsTimeout(err):
		return "request timed out; the model may still be loading"
	}
	return err.Error()
}

// imageRejectionSignatures are upstream error fragments seen when a model
// refuses image input.
var imageRejectionSignatures = []string{
	"does not support image",
	"does not support vision",
	"image input",
	"images are not supported",
	"unsupported image",
	"failed to process image",
	"missing projector",
	"vision is not supported",
	"multimodal",
}

// IsImageRejection reports whether an error message looks like a model
// refusing images.
func IsImageRejection(msg string) bool {
	m := strings.ToLower(msg)
	for _, sig := range imageRejectionSignatures {
		if strings.Contains(m, sig) {
			return true
		}
	}
	return false
}
