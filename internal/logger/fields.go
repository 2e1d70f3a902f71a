package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldComponent names the engine part that produced an entry.
	FieldComponent = "component"
	// FieldPlatform is the job platform a posting or scrape belongs to.
	FieldPlatform = "platform"
	// FieldPosting is the internal posting id.
	FieldPosting = "posting_id"
	// FieldApplication is the internal application id.
	FieldApplication = "application_id"
	// FieldProvider is the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the AI model identifier.
	FieldModel = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts key/value pairs into zap fields, trimming whitespace
// and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		value := strings.TrimSpace(field.Value)
		if key == "" || value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches fields to logger, defaulting to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// ForComponent returns a child logger tagged with the component name.
func ForComponent(logger *zap.Logger, component string) *zap.Logger {
	return WithFields(logger, StringFields(StringField{Key: FieldComponent, Value: component})...)
}

// WithProvider tags logger with the AI provider and model, skipping empty values.
func WithProvider(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}
