package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ashish23d/GreatX/internal/models"
	"github.com/ashish23d/GreatX/internal/service/intent"
)

// ImagePlaceholder stands in for prior image messages in chat history so
// binary payloads are never re-sent to the text model.
const ImagePlaceholder = "[Image Content]"

const (
	capabilityChat     = "chat_completion"
	capabilityGenerate = "image_generation"
	capabilityEdit     = "image_edit"
)

type DispatcherConfig struct {
	Chat        ChatCompleter
	Generator   ImageGenerator
	Editor      ImageEditor
	Persona     string
	AspectRatio string
	// Timeout bounds each capability call; zero disables it.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Dispatcher invokes the capability matching a classified intent and
// normalizes its answer into an assistant message. It persists nothing.
type Dispatcher struct {
	chat        ChatCompleter
	generator   ImageGenerator
	editor      ImageEditor
	persona     string
	aspectRatio string
	timeout     time.Duration
	logger      *zap.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	aspect := cfg.AspectRatio
	if aspect == "" {
		aspect = "1:1"
	}
	return &Dispatcher{
		chat:        cfg.Chat,
		generator:   cfg.Generator,
		editor:      cfg.Editor,
		persona:     cfg.Persona,
		aspectRatio: aspect,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Dispatch answers utterance according to in. prior is the transcript
// before the current user message; attachedImage is a data URI or empty.
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.Intent, utterance string, prior []models.Message, attachedImage string) (*models.Message, error) {
	switch in {
	case intent.ImageGeneration:
		return d.generateImage(ctx, utterance)
	case intent.ImageEdit:
		return d.editImage(ctx, utterance, attachedImage)
	default:
		return d.chatReply(ctx, utterance, prior)
	}
}

func (d *Dispatcher) chatReply(ctx context.Context, utterance string, prior []models.Message) (*models.Message, error) {
	if d.chat == nil {
		return nil, &UpstreamError{Capability: capabilityChat, Err: errors.New("chat capability not configured")}
	}
	history := BuildHistory(prior)
	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	text, err := d.chat.Complete(callCtx, history, utterance, d.persona)
	if err != nil {
		return nil, &UpstreamError{Capability: capabilityChat, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &UpstreamError{Capability: capabilityChat, Err: errors.New("empty completion")}
	}
	d.logger.Debug("chat reply produced", zap.Int("history", len(history)), zap.Int("chars", len(text)))
	return newAssistantMessage(text, models.KindText), nil
}

func (d *Dispatcher) generateImage(ctx context.Context, prompt string) (*models.Message, error) {
	if d.generator == nil {
		return nil, &UpstreamError{Capability: capabilityGenerate, Err: errors.New("image generation not configured")}
	}
	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	img, err := d.generator.Generate(callCtx, prompt, d.aspectRatio)
	return d.imageResult(capabilityGenerate, img, err)
}

func (d *Dispatcher) editImage(ctx context.Context, instruction, attachedImage string) (*models.Message, error) {
	if attachedImage == "" {
		return nil, ErrMissingImage
	}
	source, err := ParseDataURI(attachedImage)
	if err != nil {
		return nil, err
	}
	if d.editor == nil {
		return nil, &UpstreamError{Capability: capabilityEdit, Err: errors.New("image editing not configured")}
	}
	callCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	img, err := d.editor.Edit(callCtx, source, instruction)
	return d.imageResult(capabilityEdit, img, err)
}

func (d *Dispatcher) imageResult(capability string, img *Image, err error) (*models.Message, error) {
	if err != nil {
		if errors.Is(err, ErrNoImageReturned) {
			return nil, err
		}
		return nil, &UpstreamError{Capability: capability, Err: err}
	}
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("%s: %w", capability, ErrNoImageReturned)
	}
	d.logger.Debug("image produced", zap.String("capability", capability), zap.String("mime", img.MIMEType), zap.Int("bytes", len(img.Data)))
	return newAssistantMessage(DataURI(*img), models.KindImage), nil
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

// BuildHistory maps prior messages to chat turns, replacing image content
// with ImagePlaceholder.
func BuildHistory(prior []models.Message) []Turn {
	history := make([]Turn, 0, len(prior))
	for _, m := range prior {
		text := m.Content
		if m.Kind == models.KindImage {
			text = ImagePlaceholder
		}
		history = append(history, Turn{Role: m.Role, Text: text})
	}
	return history
}

func newAssistantMessage(content string, kind models.Kind) *models.Message {
	return &models.Message{
		Role:      models.RoleAssistant,
		Content:   content,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}
