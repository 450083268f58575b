package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MegAtonBoom/bookkeeper/core"
)

// EventType defines the type of a hook event.
type EventType string

// --- Event Type Constants ---
const (
	// Journal Replay Events
	EventPreJournalReplay  EventType = "PreJournalReplay"
	EventPostJournalScan   EventType = "PostJournalScan"
	EventPostJournalReplay EventType = "PostJournalReplay"

	// Journal Maintenance Events
	EventPostJournalRetire EventType = "PostJournalRetire"

	// Bookie Lifecycle Events
	EventPreStartBookie  EventType = "PreStartBookie"
	EventPostStartBookie EventType = "PostStartBookie"
	EventPostStopBookie  EventType = "PostStopBookie"
)

// --- HookManager Interface and Implementation ---

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// It handles synchronous vs. asynchronous execution based on the event type and listener preference.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete. Useful for graceful shutdown.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	// Type returns the type of the event.
	Type() EventType
	// Payload returns the data associated with the event.
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreJournalReplayPayload is sent before a journal directory is replayed.
// Mark points at the log mark replay starts from; a listener may move it
// forward to skip frames, or return an error to veto the replay.
type PreJournalReplayPayload struct {
	Dir  string
	Mark *core.LogMark
}

// NewPreJournalReplayEvent creates an event for before a journal directory is replayed.
func NewPreJournalReplayEvent(payload PreJournalReplayPayload) HookEvent {
	return &BaseEvent{eventType: EventPreJournalReplay, payload: payload}
}

// PostJournalScanPayload describes one finished journal file scan.
type PostJournalScanPayload struct {
	JournalID   int64
	StartOffset int64
	EndOffset   int64
	Frames      int
	Truncated   bool
	Error       error
}

// NewPostJournalScanEvent creates an event for after a single journal file was scanned.
func NewPostJournalScanEvent(payload PostJournalScanPayload) HookEvent {
	return &BaseEvent{eventType: EventPostJournalScan, payload: payload}
}

// PostJournalReplayPayload describes a finished replay of one journal directory.
type PostJournalReplayPayload struct {
	Dir      string
	From     core.LogMark
	To       core.LogMark
	Journals int
	Frames   int64
	Duration time.Duration
	Error    error
}

// NewPostJournalReplayEvent creates an event for after a journal directory was replayed.
func NewPostJournalReplayEvent(payload PostJournalReplayPayload) HookEvent {
	return &BaseEvent{eventType: EventPostJournalReplay, payload: payload}
}

// PostJournalRetirePayload describes a journal file that left the journal directory.
type PostJournalRetirePayload struct {
	JournalID   int64
	Path        string
	ArchivePath string // empty when the journal was deleted without archiving
}

// NewPostJournalRetireEvent creates an event for after a journal was retired.
func NewPostJournalRetireEvent(payload PostJournalRetirePayload) HookEvent {
	return &BaseEvent{eventType: EventPostJournalRetire, payload: payload}
}

// BookieLifecyclePayload lists the directories a bookie lifecycle event applies to.
type BookieLifecyclePayload struct {
	JournalDirs []string
	LedgerDirs  []string
}

// NewPreStartBookieEvent creates an event for before the bookie starts.
func NewPreStartBookieEvent(payload BookieLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPreStartBookie, payload: payload}
}

// NewPostStartBookieEvent creates an event for after the bookie started.
func NewPostStartBookieEvent(payload BookieLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostStartBookie, payload: payload}
}

// NewPostStopBookieEvent creates an event for after the bookie stopped.
func NewPostStopBookieEvent(payload BookieLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostStopBookie, payload: payload}
}

// --- HookListener Interface ---

// HookListener defines the interface for components that want to listen to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook (e.g., PreJournalReplay) cancels the operation.
	// Errors from "Post" hooks are logged without affecting the main operation.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be run in a separate goroutine.
	// This is only respected for "Post" hooks. "Pre" hooks are always synchronous.
	IsAsync() bool
}

// ListenerFunc adapts a plain function into a synchronous HookListener.
type ListenerFunc struct {
	Fn    func(ctx context.Context, event HookEvent) error
	Order int
	Async bool
}

func (l ListenerFunc) OnEvent(ctx context.Context, event HookEvent) error { return l.Fn(ctx, event) }
func (l ListenerFunc) Priority() int                                   { return l.Order }
func (l ListenerFunc) IsAsync() bool                                   { return l.Async }

// listenerWithPriority wraps a listener with its priority for ordered dispatch.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// The map stores slices of listeners, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // For tracking async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]

	// sort.Search finds the first index i where l[i].priority > item.priority,
	// so listeners with equal priority keep registration order.
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})

	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks MUST be synchronous to allow for cancellation.
		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				if err := currentItem.listener.OnEvent(ctx, event); err != nil {
					m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
