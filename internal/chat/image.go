// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/ollamabro/internal/model"
)

// MaxImageBytes caps a single attachment.
const MaxImageBytes = 20 << 20

// LoadImage reads an image attachment and sniffs its MIME type. Files that
// are not images are rejected with a *ValidationError.
func LoadImage(path string) (model.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Image{}, &ValidationError{Field: "image", Message: err.Error()}
	}
	if info.IsDir() {
		return model.Image{}, &ValidationError{Field: "image", Message: path + " is a directory"}
	}
	if info.Size() > MaxImageBytes {
		return model.Image{}, &ValidationError{Field: "image", Message: fmt.Sprintf("%s is larger than %d MB", filepath.Base(path), MaxImageBytes>>20)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.Image{}, fmt.Errorf("read %s: %w", path, err)
	}
	mt := DetectImageType(filepath.Base(path), data)
	if !strings.HasPrefix(mt, "image/") {
		return model.Image{}, &ValidationError{Field: "image", Message: fmt.Sprintf("%s is not an image (%s)", filepath.Base(path), mt)}
	}
	return model.Image{Data: data, Filename: filepath.Base(path), MimeType: mt}, nil
}

// DetectImageType sniffs content first and falls back to the extension.
func DetectImageType(name string, data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if m := http.DetectContentType(head); m != "application/octet-stream" {
		return m
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
