// Package workerproto defines the JSON-lines messages exchanged between the
// supervisor and the watcher worker process over the worker's stdin and
// stdout.
package workerproto

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"mediapub/internal/watcher"
)

// Action names a command sent to the worker and echoed back as its
// acknowledgement.
type Action string

const (
	ActionRetry  Action = "retry"
	ActionUpload Action = "upload"
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
)

// Event names an unsolicited worker notification.
type Event string

const (
	EventNewFile Event = "newFile"
	EventError   Event = "error"
)

const maxLine = 1 << 20

// ErrMalformed marks a line that could not be decoded. The stream stays
// usable after it.
var ErrMalformed = errors.New("malformed message")

// Message is one protocol line. Exactly one of Action, Status and Event is
// set.
type Message struct {
	Action   Action   `json:"action,omitempty"`
	ID       string   `json:"id,omitempty"`
	IDs      []string `json:"ids,omitempty"`
	Platform string   `json:"platform,omitempty"`
	Status   string   `json:"status,omitempty"`
	Event    Event    `json:"event,omitempty"`
	Path     string   `json:"path,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Validate checks the discriminator fields.
func (m Message) Validate() error {
	set := 0
	for _, v := range []string{string(m.Action), m.Status, string(m.Event)} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return errors.New("message must carry exactly one of action, status or event")
	}
	switch m.Action {
	case "", ActionRetry, ActionUpload, ActionStart, ActionStop:
	default:
		return fmt.Errorf("unknown action %q", m.Action)
	}
	switch m.Event {
	case "", EventNewFile, EventError:
	default:
		return fmt.Errorf("unknown event %q", m.Event)
	}
	if m.Status != "" {
		if _, ok := watcher.ParseStatus(m.Status); !ok {
			return fmt.Errorf("unknown status %q", m.Status)
		}
	}
	return nil
}

// Err returns the error carried by an acknowledgement or error event.
func (m Message) Err() error {
	if m.Error == "" {
		return nil
	}
	return errors.New(m.Error)
}

// Retry asks the worker to resume packages.
func Retry(ids []string) Message {
	return Message{Action: ActionRetry, IDs: ids}
}

// Upload asks the worker to upload packages to platform.
func Upload(ids []string, platform string) Message {
	return Message{Action: ActionUpload, IDs: ids, Platform: platform}
}

// Start asks a running worker to resume watching its hot folders.
func Start() Message {
	return Message{Action: ActionStart}
}

// Stop asks the worker to stop watching. Packages in progress keep running
// until the supervisor closes the worker's input.
func Stop() Message {
	return Message{Action: ActionStop}
}

// Ack acknowledges action. ids lists what the worker acted on.
func Ack(action Action, ids []string, err error) Message {
	msg := Message{Action: action, IDs: ids}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

// StatusChange reports a watcher status.
func StatusChange(status watcher.Status) Message {
	return Message{Status: status.String()}
}

// NewFile reports a submitted package.
func NewFile(path, id string) Message {
	return Message{Event: EventNewFile, Path: path, ID: id}
}

// Failure reports an observation or processing error.
func Failure(err error) Message {
	return Message{Event: EventError, Error: err.Error()}
}

// Writer encodes messages one per line. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write encodes msg followed by a newline.
func (w *Writer) Write(msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Reader decodes messages one per line. Blank lines are skipped.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Reader{scanner: scanner}
}

// Read returns the next message or io.EOF. A malformed line yields an error
// but the reader stays usable.
func (r *Reader) Read() (Message, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := msg.Validate(); err != nil {
			return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, line, err)
		}
		return msg, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	return Message{}, io.EOF
}
