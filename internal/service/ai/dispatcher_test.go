package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashish23d/GreatX/internal/models"
	"github.com/ashish23d/GreatX/internal/service/intent"
)

func newTestDispatcher(chat *fakeChat, images *fakeImages) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Chat:      chat,
		Generator: images,
		Editor:    images,
		Persona:   "persona",
	})
}

func TestDispatchChatReply(t *testing.T) {
	chat := &fakeChat{reply: "Paris."}
	images := &fakeImages{}
	d := newTestDispatcher(chat, images)

	prior := []models.Message{
		textMsg(models.RoleUser, "hi"),
		textMsg(models.RoleAssistant, "hello!"),
		{Role: models.RoleUser, Content: "data:image/png;base64,AAAA", Kind: models.KindImage},
		{Role: models.RoleAssistant, Content: "data:image/png;base64,BBBB", Kind: models.KindImage},
	}
	msg, err := d.Dispatch(context.Background(), intent.ChatReply, "What's the capital of France?", prior, "")
	require.NoError(t, err)

	assert.Equal(t, models.RoleAssistant, msg.Role)
	assert.Equal(t, models.KindText, msg.Kind)
	assert.Equal(t, "Paris.", msg.Content)
	assert.Equal(t, "What's the capital of France?", chat.input)
	assert.Equal(t, "persona", chat.persona)
	assert.Equal(t, []Turn{
		{Role: models.RoleUser, Text: "hi"},
		{Role: models.RoleAssistant, Text: "hello!"},
		{Role: models.RoleUser, Text: ImagePlaceholder},
		{Role: models.RoleAssistant, Text: ImagePlaceholder},
	}, chat.history)
	assert.Zero(t, images.genCalls+images.editCalls)
}

func TestDispatchChatReplyFailures(t *testing.T) {
	d := newTestDispatcher(&fakeChat{err: errors.New("boom")}, &fakeImages{})
	_, err := d.Dispatch(context.Background(), intent.ChatReply, "hi", nil, "")
	require.Error(t, err)
	assert.True(t, IsUpstream(err))

	d = newTestDispatcher(&fakeChat{reply: "   "}, &fakeImages{})
	_, err = d.Dispatch(context.Background(), intent.ChatReply, "hi", nil, "")
	assert.True(t, IsUpstream(err), "empty completion must be an upstream error")
}

func TestDispatchChatTimeoutSurfacesAsUpstream(t *testing.T) {
	chat := &fakeChat{block: true}
	d := NewDispatcher(DispatcherConfig{Chat: chat, Timeout: 10 * time.Millisecond})

	_, err := d.Dispatch(context.Background(), intent.ChatReply, "hi", nil, "")
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatchImageGeneration(t *testing.T) {
	chat := &fakeChat{}
	images := &fakeImages{image: &Image{Data: []byte("png-bytes"), MIMEType: "image/png"}}
	d := newTestDispatcher(chat, images)

	prior := []models.Message{textMsg(models.RoleUser, "earlier")}
	msg, err := d.Dispatch(context.Background(), intent.ImageGeneration, "Generate a picture of a futuristic city", prior, "")
	require.NoError(t, err)

	assert.Equal(t, models.KindImage, msg.Kind)
	assert.Equal(t, models.RoleAssistant, msg.Role)
	assert.True(t, strings.HasPrefix(msg.Content, "data:image/png;base64,"))
	assert.Equal(t, "Generate a picture of a futuristic city", images.prompt)
	assert.Equal(t, "1:1", images.aspectRatio)
	assert.Zero(t, chat.calls)
}

func TestDispatchImageGenerationNoImage(t *testing.T) {
	d := newTestDispatcher(&fakeChat{}, &fakeImages{})
	_, err := d.Dispatch(context.Background(), intent.ImageGeneration, "draw a picture", nil, "")
	assert.ErrorIs(t, err, ErrNoImageReturned)
	assert.False(t, IsUpstream(err))
}

func TestDispatchImageGenerationTransportError(t *testing.T) {
	d := newTestDispatcher(&fakeChat{}, &fakeImages{err: errors.New("503")})
	_, err := d.Dispatch(context.Background(), intent.ImageGeneration, "draw a picture", nil, "")
	assert.True(t, IsUpstream(err))
	assert.NotErrorIs(t, err, ErrNoImageReturned)
}

func TestDispatchImageEdit(t *testing.T) {
	images := &fakeImages{image: &Image{Data: []byte("edited"), MIMEType: "image/webp"}}
	d := newTestDispatcher(&fakeChat{}, images)

	msg, err := d.Dispatch(context.Background(), intent.ImageEdit, "Remove the background", nil, "data:image/jpeg;base64,aGVsbG8=")
	require.NoError(t, err)

	assert.Equal(t, 1, images.editCalls)
	assert.Equal(t, "image/jpeg", images.edited.MIMEType)
	assert.Equal(t, []byte("hello"), images.edited.Data)
	assert.Equal(t, "Remove the background", images.prompt)
	assert.Equal(t, models.KindImage, msg.Kind)
	assert.Equal(t, DataURI(Image{Data: []byte("edited"), MIMEType: "image/webp"}), msg.Content)
}

func TestDispatchImageEditPreconditions(t *testing.T) {
	images := &fakeImages{}
	d := newTestDispatcher(&fakeChat{}, images)

	_, err := d.Dispatch(context.Background(), intent.ImageEdit, "edit it", nil, "")
	assert.ErrorIs(t, err, ErrMissingImage)

	_, err = d.Dispatch(context.Background(), intent.ImageEdit, "edit it", nil, "not-a-uri")
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Zero(t, images.editCalls)

	_, err = d.Dispatch(context.Background(), intent.ImageEdit, "edit it", nil, "data:image/png;base64,aGk=")
	assert.ErrorIs(t, err, ErrNoImageReturned)
}

func TestDispatchUnconfiguredCapabilities(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	_, err := d.Dispatch(context.Background(), intent.ChatReply, "hi", nil, "")
	assert.True(t, IsUpstream(err))
	_, err = d.Dispatch(context.Background(), intent.ImageGeneration, "draw art", nil, "")
	assert.True(t, IsUpstream(err))
	_, err = d.Dispatch(context.Background(), intent.ImageEdit, "edit", nil, "data:image/png;base64,aGk=")
	assert.True(t, IsUpstream(err))
}
