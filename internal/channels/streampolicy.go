package channels

import (
	"context"
	"strings"
	"sync"
	"time"
)

// EditInterval is the minimum spacing between edits of a streamed
// placeholder message (spec.md §4.2: "no more often than every 1.5s").
const EditInterval = 1500 * time.Millisecond

// EditSender is implemented by adapters whose provider API supports
// send-then-edit (Telegram, Slack, Discord).
type EditSender interface {
	SendNew(ctx context.Context, chatID, text string) (placeholderID string, err error)
	EditExisting(ctx context.Context, chatID, placeholderID, text string) error
}

// EditBuffer implements the edit-based streaming policy: send a
// placeholder on the first chunk, append subsequent chunks to an
// in-memory buffer, and edit the placeholder no more often than
// EditInterval. On stream end, flush a final edit. When the accumulated
// text exceeds maxMessageSize, overflow is split into follow-up messages
// on a newline boundary where possible.
type EditBuffer struct {
	sender        EditSender
	maxMessageSize int

	mu           sync.Mutex
	buffers      map[string]*editState
}

type editState struct {
	placeholderID string
	text          string
	lastEdit      time.Time
	flushed       int // bytes already split off into follow-up messages
}

// NewEditBuffer creates a per-chat edit-buffering policy. maxMessageSize
// <= 0 disables splitting.
func NewEditBuffer(sender EditSender, maxMessageSize int) *EditBuffer {
	return &EditBuffer{sender: sender, maxMessageSize: maxMessageSize, buffers: make(map[string]*editState)}
}

// OnChunk appends a delta to the chat's buffer and, rate-limited to
// EditInterval, edits the placeholder (creating it on first chunk).
func (e *EditBuffer) OnChunk(ctx context.Context, chatID, delta string) error {
	e.mu.Lock()
	st, ok := e.buffers[chatID]
	if !ok {
		st = &editState{}
		e.buffers[chatID] = st
	}
	st.text += delta
	e.mu.Unlock()

	if st.placeholderID == "" {
		id, err := e.sender.SendNew(ctx, chatID, st.text)
		if err != nil {
			return err
		}
		st.placeholderID = id
		st.lastEdit = time.Now()
		return nil
	}

	if time.Since(st.lastEdit) < EditInterval {
		return nil
	}
	st.lastEdit = time.Now()
	return e.editWithSplit(ctx, chatID, st)
}

// OnEnd flushes one final edit with the complete text and clears the
// chat's buffer state.
func (e *EditBuffer) OnEnd(ctx context.Context, chatID, finalText string) error {
	e.mu.Lock()
	st, ok := e.buffers[chatID]
	if !ok {
		st = &editState{}
	}
	if finalText != "" {
		st.text = finalText
	}
	delete(e.buffers, chatID)
	e.mu.Unlock()

	if st.placeholderID == "" {
		if st.text == "" {
			return nil
		}
		_, err := e.sender.SendNew(ctx, chatID, st.text)
		return err
	}
	return e.editWithSplit(ctx, chatID, st)
}

func (e *EditBuffer) editWithSplit(ctx context.Context, chatID string, st *editState) error {
	text := st.text[st.flushed:]
	if e.maxMessageSize <= 0 || len(text) <= e.maxMessageSize {
		return e.sender.EditExisting(ctx, chatID, st.placeholderID, st.text[st.flushed:])
	}

	// Split on the last newline before the cap, editing the placeholder
	// with the first piece and sending the remainder as follow-ups.
	head := text[:e.maxMessageSize]
	if idx := strings.LastIndexByte(head, '\n'); idx > 0 {
		head = head[:idx]
	}
	if err := e.sender.EditExisting(ctx, chatID, st.placeholderID, head); err != nil {
		return err
	}
	st.flushed += len(head)
	rest := st.text[st.flushed:]
	if rest == "" {
		return nil
	}
	newID, err := e.sender.SendNew(ctx, chatID, rest)
	if err != nil {
		return err
	}
	st.placeholderID = newID
	return nil
}

// BatchBuffer implements the batch-only streaming policy: accumulate
// chunks into a per-chat buffer and send exactly one message on stream
// end (WhatsApp Cloud API and similar providers with no message-edit
// capability).
type BatchBuffer struct {
	mu      sync.Mutex
	buffers map[string]*strings.Builder
}

// NewBatchBuffer creates a batch-accumulation streaming policy.
func NewBatchBuffer() *BatchBuffer {
	return &BatchBuffer{buffers: make(map[string]*strings.Builder)}
}

// OnChunk appends a delta to the chat's buffer without sending anything.
func (b *BatchBuffer) OnChunk(chatID, delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.buffers[chatID]
	if !ok {
		sb = &strings.Builder{}
		b.buffers[chatID] = sb
	}
	sb.WriteString(delta)
}

// Flush returns and clears the accumulated text for a chat, to be sent
// as the single outbound message on stream end.
func (b *BatchBuffer) Flush(chatID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.buffers[chatID]
	if !ok {
		return ""
	}
	delete(b.buffers, chatID)
	return sb.String()
}
