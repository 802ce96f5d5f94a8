package ai

import (
	"context"

	"github.com/ashish23d/GreatX/internal/models"
)

// Turn is one role-tagged text fragment of the history sent to a chat model.
type Turn struct {
	Role models.Role
	Text string
}

// Image is a binary image payload with its MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// ChatCompleter produces a text reply for the history plus the new utterance.
type ChatCompleter interface {
	Complete(ctx context.Context, history []Turn, utterance, persona string) (string, error)
}

// ImageGenerator renders an image from a prompt. A nil image with a nil
// error means the model answered without any image.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt, aspectRatio string) (*Image, error)
}

// ImageEditor applies an instruction to an image, with the same nil-image
// convention as ImageGenerator.
type ImageEditor interface {
	Edit(ctx context.Context, image Image, instruction string) (*Image, error)
}
