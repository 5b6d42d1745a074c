package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dunamismax/pixelpipe/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{Operation: NewOperation()}
	valid.Operation.Input = NewInputSpec()
	valid.Operation.Input.Object = "uploads/cat.jpg"
	valid.Operation.Width = 320
	require.NoError(t, valid.Validate())

	empty := CreateJobRequest{Operation: NewOperation()}
	err := empty.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInputSpec))

	badWebhook := valid
	badWebhook.WebhookURL = "ftp://example.com/hook"
	require.Error(t, badWebhook.Validate())

	fileInput := CreateJobRequest{Operation: NewOperation()}
	fileInput.Operation.Input = FileInput("/etc/passwd")
	require.ErrorIs(t, fileInput.Validate(), ErrInvalidInputSpec)
}

func TestInputSpecValidate(t *testing.T) {
	both := NewInputSpec()
	both.File = "a.png"
	both.Buffer = []byte{1, 2, 3}
	require.ErrorIs(t, both.Validate(), ErrInvalidInputSpec)

	raw := NewInputSpec()
	raw.Raw = &RawSource{Data: make([]byte, 2*2*3), Width: 2, Height: 2, Channels: 3}
	require.NoError(t, raw.Validate())

	raw.Raw.Channels = 0
	require.ErrorIs(t, raw.Validate(), ErrInvalidInputSpec)

	short := NewInputSpec()
	short.Raw = &RawSource{Data: make([]byte, 5), Width: 2, Height: 2, Channels: 3}
	require.ErrorIs(t, short.Validate(), ErrInvalidInputSpec)

	pages := FileInput("a.gif")
	pages.Pages = 0
	require.ErrorIs(t, pages.Validate(), ErrInvalidInputSpec)
}

func TestOperationJSONDefaults(t *testing.T) {
	var op Operation
	require.NoError(t, json.Unmarshal([]byte(`{"input":{"file":"in.jpg"},"width":200,"canvas":"embed","composite":[{"input":{"file":"logo.png"}}]}`), &op))

	assert.Equal(t, 200, op.Width)
	assert.Equal(t, -1, op.Height)
	assert.Equal(t, -1, op.TopOffsetPre)
	assert.Equal(t, geometry.CanvasEmbed, op.Canvas)
	assert.Equal(t, 1, op.Input.Pages)
	assert.Equal(t, -1, op.ExtractChannel)
	assert.Equal(t, "input", op.Format)
	assert.Equal(t, 80, op.Options.JPEG.Quality)
	require.Len(t, op.Composite, 1)
	assert.Equal(t, "over", op.Composite[0].Blend)
	assert.Equal(t, -1, op.Composite[0].Left)
	assert.Equal(t, 1, op.Composite[0].Input.Pages)
	require.NoError(t, op.Validate())
}

func TestOperationValidateRejectsBadGeometry(t *testing.T) {
	op := NewOperation()
	op.Input = FileInput("in.png")
	op.Width = 0
	require.ErrorIs(t, op.Validate(), ErrInvalidInputSpec)

	op = NewOperation()
	op.Input = FileInput("in.png")
	op.TopOffsetPre = 10
	require.ErrorIs(t, op.Validate(), ErrInvalidInputSpec)

	op = NewOperation()
	op.Input = FileInput("in.png")
	op.Position = 12
	require.ErrorIs(t, op.Validate(), ErrInvalidInputSpec)

	op.Position = geometry.StrategyAttention
	require.NoError(t, op.Validate())
}

func TestOperationCanvasAliasesDecodeToCanonical(t *testing.T) {
	cases := map[string]geometry.Canvas{
		"cover":   geometry.CanvasCrop,
		"Contain": geometry.CanvasEmbed,
		"fill":    geometry.CanvasIgnoreAspect,
		"INSIDE":  geometry.CanvasMax,
		"outside": geometry.CanvasMin,
		"Embed":   geometry.CanvasEmbed,
	}
	for name, want := range cases {
		var op Operation
		body := `{"input":{"file":"in.jpg"},"width":50,"canvas":"` + name + `"}`
		require.NoError(t, json.Unmarshal([]byte(body), &op), name)
		assert.Equal(t, want, op.Canvas, name)
	}

	var op Operation
	require.Error(t, json.Unmarshal([]byte(`{"input":{"file":"in.jpg"},"canvas":"stretch"}`), &op))
}

func TestOperationNormalize(t *testing.T) {
	op := NewOperation()
	op.Input = FileInput("in.png")
	op.Canvas = "Inside"
	op.Format = " WebP "
	require.NoError(t, op.Normalize())
	assert.Equal(t, geometry.CanvasMax, op.Canvas)
	assert.Equal(t, "webp", op.Format)

	op.Format = ""
	require.NoError(t, op.Normalize())
	assert.Equal(t, "input", op.Format)

	op.Canvas = "stretch"
	require.ErrorIs(t, op.Normalize(), ErrInvalidInputSpec)
}

func TestKindOf(t *testing.T) {
	err := errors.Join(errors.New("context"), ErrChannelOutOfRange)
	assert.Equal(t, "ChannelOutOfRange", KindOf(err))
	assert.Equal(t, "Internal", KindOf(errors.New("boom")))
	assert.Equal(t, "", KindOf(nil))
	assert.Equal(t, "bad input", Message(errors.New("bad input \n")))
}

func TestCreateJobRequestPrepareUpload(t *testing.T) {
	req := CreateJobRequest{Operation: NewOperation(), Upload: true}
	require.NoError(t, req.PrepareUpload("uploads/job-1/source"))
	assert.Equal(t, "uploads/job-1/source", req.Operation.Input.Object)
	require.NoError(t, req.Validate())

	conflict := CreateJobRequest{Operation: NewOperation(), Upload: true}
	conflict.Operation.Input.Buffer = []byte{1, 2, 3}
	require.ErrorIs(t, conflict.PrepareUpload("uploads/x"), ErrInvalidInputSpec)

	plain := CreateJobRequest{Operation: NewOperation()}
	require.NoError(t, plain.PrepareUpload("uploads/y"))
	assert.Empty(t, plain.Operation.Input.Object)
}

func TestValidateRemoteRejectsServerPaths(t *testing.T) {
	op := NewOperation()
	op.Input = BufferInput([]byte{1})
	op.Composite = []Composite{{Input: FileInput("/srv/logo.png")}}
	require.ErrorIs(t, op.ValidateRemote(), ErrInvalidInputSpec)

	op = NewOperation()
	op.Input = NewInputSpec()
	op.Input.Text = &TextSource{Text: "hi", FontFile: "/usr/share/fonts/a.ttf"}
	require.ErrorIs(t, op.ValidateRemote(), ErrInvalidInputSpec)

	op = NewOperation()
	op.Input = BufferInput([]byte{1})
	op.FileOut = "/tmp/out.png"
	require.ErrorIs(t, op.ValidateRemote(), ErrInvalidInputSpec)
}
