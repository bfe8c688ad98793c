package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/zenith-chat/zenith/internal/db"
	"github.com/zenith-chat/zenith/internal/files"
	"github.com/zenith-chat/zenith/internal/models"
)

// The two accepted model variants.
const (
	ModelDefault = "gpt-4.1"
	ModelMini    = "gpt-4.1-mini"
)

// pdfTokenWarn flags PDF extractions big enough to crowd out the prompt.
const pdfTokenWarn = 32768

const analyzeMaxTokens = 512

func ValidModel(name string) bool {
	return name == ModelDefault || name == ModelMini
}

type Service struct {
	llm    llms.Model
	db     *db.Database
	logger *zap.Logger
}

func New(baseURL, token string, database *db.Database, logger *zap.Logger) (*Service, error) {
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(ModelDefault),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return &Service{llm: llm, db: database, logger: logger}, nil
}

// NewWithModel wires an already-constructed model, used by tests.
func NewWithModel(model llms.Model, database *db.Database, logger *zap.Logger) *Service {
	return &Service{llm: model, db: database, logger: logger}
}

// ChatStream replays the conversation's full history to the model and streams
// the reply. Every fragment is handed to onFragment as it arrives; only after
// the stream completes is the concatenated reply persisted as a single
// assistant message. On any error nothing is persisted, so a failed turn
// never leaves a partial reply behind.
func (s *Service) ChatStream(ctx context.Context, conversationID int64, model string, onFragment func(string) error) (*models.Message, error) {
	history, err := s.db.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	content := make([]llms.MessageContent, 0, len(history))
	for _, msg := range history {
		content = append(content, llms.TextParts(roleToMessageType(msg.Role), msg.Content))
	}

	var reply strings.Builder
	resp, err := s.llm.GenerateContent(ctx, content,
		llms.WithModel(model),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			reply.Write(chunk)
			return onFragment(string(chunk))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("generate completion: %w", err)
	}

	full := reply.String()
	if full == "" && len(resp.Choices) > 0 {
		// Provider answered without streaming any fragments.
		full = resp.Choices[0].Content
		if full != "" {
			if err := onFragment(full); err != nil {
				return nil, err
			}
		}
	}

	response := &models.Message{
		ConvID:  conversationID,
		Role:    models.RoleAssistant,
		Content: full,
	}
	if err := s.db.SaveMessage(ctx, response); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}
	return response, nil
}

// AnalyzeFile runs a one-shot, non-streamed completion over the uploaded
// file. Images travel as a base64 data URI content part next to the prompt;
// PDFs have their text extracted and inlined above the prompt. The result is
// displayed once and never persisted.
func (s *Service) AnalyzeFile(ctx context.Context, model string, att *files.Attachment, prompt string) (string, error) {
	var parts []llms.ContentPart
	if att.IsPDF() {
		text, err := files.ExtractPDFText(att.Data)
		if err != nil {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
		if n, err := files.TokenCount(text); err == nil && n > pdfTokenWarn {
			s.logger.Warn("large pdf inlined into prompt",
				zap.String("file", att.Name),
				zap.Int("tokens", n))
		}
		parts = append(parts, llms.TextContent{Text: text + "\n\n" + prompt})
	} else {
		parts = append(parts,
			llms.TextContent{Text: prompt},
			llms.ImageURLContent{URL: att.DataURI()},
		)
	}

	resp, err := s.llm.GenerateContent(ctx,
		[]llms.MessageContent{{Role: schema.ChatMessageTypeHuman, Parts: parts}},
		llms.WithModel(model),
		llms.WithMaxTokens(analyzeMaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("generate completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Content, nil
}

func roleToMessageType(role string) schema.ChatMessageType {
	if role == models.RoleAssistant {
		return schema.ChatMessageTypeAI
	}
	return schema.ChatMessageTypeHuman
}
