package ai

import (
	"context"

	"github.com/ashish23d/GreatX/internal/models"
)

type fakeChat struct {
	reply   string
	err     error
	calls   int
	history []Turn
	input   string
	persona string
	ctxErr  error
	block   bool
}

func (f *fakeChat) Complete(ctx context.Context, history []Turn, utterance, persona string) (string, error) {
	f.calls++
	f.history = history
	f.input = utterance
	f.persona = persona
	if f.block {
		<-ctx.Done()
		f.ctxErr = ctx.Err()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

type fakeImages struct {
	image       *Image
	err         error
	genCalls    int
	editCalls   int
	prompt      string
	aspectRatio string
	edited      Image
}

func (f *fakeImages) Generate(_ context.Context, prompt, aspectRatio string) (*Image, error) {
	f.genCalls++
	f.prompt = prompt
	f.aspectRatio = aspectRatio
	return f.image, f.err
}

func (f *fakeImages) Edit(_ context.Context, image Image, instruction string) (*Image, error) {
	f.editCalls++
	f.edited = image
	f.prompt = instruction
	return f.image, f.err
}

func textMsg(role models.Role, content string) models.Message {
	return models.Message{Role: role, Content: content, Kind: models.KindText}
}
