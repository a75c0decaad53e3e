package workerproto_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediapub/internal/watcher"
	"mediapub/internal/workerproto"
)

func TestWriterProducesOneLinePerMessage(t *testing.T) {
	var buf bytes.Buffer
	w := workerproto.NewWriter(&buf)
	require.NoError(t, w.Write(workerproto.Upload([]string{"a", "b"}, "vimeo")))
	require.NoError(t, w.Write(workerproto.StatusChange(watcher.StatusStarted)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"action":"upload","ids":["a","b"],"platform":"vimeo"}`, lines[0])
	assert.JSONEq(t, `{"status":"started"}`, lines[1])
}

func TestReaderSkipsBlankLinesAndReportsEOF(t *testing.T) {
	input := "\n{\"event\":\"newFile\",\"path\":\"/hot/a.mp4\",\"id\":\"p1\"}\n\n{\"action\":\"retry\",\"error\":\"boom\"}\n"
	r := workerproto.NewReader(strings.NewReader(input))

	msg, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, workerproto.EventNewFile, msg.Event)
	assert.Equal(t, "/hot/a.mp4", msg.Path)
	assert.Equal(t, "p1", msg.ID)

	msg, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, workerproto.ActionRetry, msg.Action)
	assert.EqualError(t, msg.Err(), "boom")

	_, err = r.Read()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReaderRejectsMalformedLinesButContinues(t *testing.T) {
	input := "not json\n{\"status\":\"paused\"}\n{\"action\":\"stop\"}\n"
	r := workerproto.NewReader(strings.NewReader(input))

	_, err := r.Read()
	require.ErrorIs(t, err, workerproto.ErrMalformed)
	_, err = r.Read()
	require.ErrorIs(t, err, workerproto.ErrMalformed)
	msg, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, workerproto.ActionStop, msg.Action)
}

func TestValidateRequiresSingleDiscriminator(t *testing.T) {
	assert.Error(t, workerproto.Message{}.Validate())
	assert.Error(t, workerproto.Message{Action: workerproto.ActionRetry, Status: "started"}.Validate())
	assert.Error(t, workerproto.Message{Action: "explode"}.Validate())
	assert.NoError(t, workerproto.Ack(workerproto.ActionUpload, nil, errors.New("x")).Validate())
	assert.NoError(t, workerproto.Failure(errors.New("disk full")).Validate())
}
