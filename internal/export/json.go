// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"

	"github.com/jeranaias/ollamabro/internal/model"
)

// JSONExporter writes the stored conversation as indented JSON, wrapped
// with the model name so the file can be matched to its history again.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type jsonDocument struct {
	Model        string              `json:"model"`
	Exported     string              `json:"exported"`
	Conversation *model.Conversation `json:"conversation"`
}

// Export converts a conversation to JSON. Empty conversations are allowed.
func (e *JSONExporter) Export(modelName string, conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, validate(conv)
	}
	return json.MarshalIndent(jsonDocument{
		Model:        modelName,
		Exported:     e.options.now().UTC().Format("2006-01-02T15:04:05Z"),
		Conversation: conv,
	}, "", "  ")
}

func (e *JSONExporter) FileExtension() string { return ".json" }

func (e *JSONExporter) MimeType() string { return "application/json" }
