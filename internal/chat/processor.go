package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tetherlabs/tether/internal/chatapi"
	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/store"
)

// MessageHandler receives each message that passed deduplication. It runs on
// its own goroutine; the ledger commit does not wait for it.
type MessageHandler func(ctx context.Context, peerID string, msg *chatapi.Message)

// Processor deduplicates incoming messages against the persisted ledger.
// A message ID is committed to the ledger right after the handler is handed
// the message, not after the handler finishes: answering twice is the failure
// mode being designed out, so a crash between commit and reply may cost a
// reply but never duplicates one.
type Processor struct {
	store     *store.Store
	logger    *slog.Logger
	onMessage MessageHandler

	mu    sync.Mutex
	creds *store.ChatCredentials
}

// NewProcessor creates a processor over the given credentials document.
func NewProcessor(st *store.Store, creds *store.ChatCredentials, onMessage MessageHandler) *Processor {
	return &Processor{
		store:     st,
		logger:    logging.WithComponent("chat-processor"),
		onMessage: onMessage,
		creds:     creds,
	}
}

// SetCredentials swaps the credentials document, e.g. after re-registration.
func (p *Processor) SetCredentials(creds *store.ChatCredentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = creds
}

// Process runs one message through the dedup gate. Returns true when the
// message was new and handed to the handler. The check and the mark happen
// under one lock, so concurrent calls with the same ID emit at most once.
func (p *Processor) Process(ctx context.Context, peerID string, msg *chatapi.Message) bool {
	p.mu.Lock()
	if p.creds == nil || p.creds.HasProcessed(msg.ID) {
		p.mu.Unlock()
		return false
	}
	p.creds.MarkProcessed(msg.ID)
	creds := *p.creds
	p.mu.Unlock()

	if p.onMessage != nil {
		go p.onMessage(ctx, peerID, msg)
	}

	if err := p.store.SaveChatCredentials(&creds); err != nil {
		p.logger.Warn("Failed to persist processed-message ledger",
			slog.String("message_id", msg.ID),
			slog.Any("error", err),
		)
	}
	return true
}
