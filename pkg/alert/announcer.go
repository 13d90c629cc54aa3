package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNothingToRepeat is returned by Repeat before anything was spoken.
var ErrNothingToRepeat = errors.New("alert: nothing to repeat")

// Sink delivers feedback to the user's device.
type Sink interface {
	Speak(ctx context.Context, text string) error
	Vibrate(ctx context.Context, pattern Pattern) error
}

// Alarmer is implemented by sinks that can play the hazard siren.
type Alarmer interface {
	Alarm(ctx context.Context) error
}

// Announcer is the single writer to a device's Sink. Obstacle alerts,
// navigation events and command replies all go through it. It keeps the
// last spoken message for repeat; delivery itself runs without its lock, so
// a slow render of one message never holds back a hazard alert.
type Announcer struct {
	sink   Sink
	logger *slog.Logger

	mu       sync.Mutex
	last     string
	observer func(Announcement)
}

// NewAnnouncer creates an announcer writing to sink.
func NewAnnouncer(sink Sink, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		sink:   sink,
		logger: logger.With("component", "alert.announcer"),
	}
}

// OnAnnounce registers a callback invoked after every delivery attempt. It
// may be called from several goroutines at once.
func (a *Announcer) OnAnnounce(fn func(Announcement)) {
	a.mu.Lock()
	a.observer = fn
	a.mu.Unlock()
}

// Announce speaks the message, then vibrates, then sounds the siren when
// requested and supported. All steps are attempted; their errors are joined.
// Announcements may be delivered concurrently; the sink orders its writes.
func (a *Announcer) Announce(ctx context.Context, ann Announcement) error {
	a.mu.Lock()
	if ann.Message != "" {
		a.last = ann.Message
	}
	observer := a.observer
	a.mu.Unlock()

	var errs []error
	if ann.Message != "" {
		if err := a.sink.Speak(ctx, ann.Message); err != nil {
			errs = append(errs, err)
		}
	}
	if len(ann.Haptic) > 0 {
		if err := a.sink.Vibrate(ctx, ann.Haptic); err != nil {
			errs = append(errs, err)
		}
	}
	if ann.Siren {
		if alarmer, ok := a.sink.(Alarmer); ok {
			if err := alarmer.Alarm(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if observer != nil {
		observer(ann)
	}

	err := errors.Join(errs...)
	if err != nil {
		a.logger.Warn("announcement delivery failed", "kind", ann.Kind, "error", err)
	} else {
		a.logger.Debug("announced", "kind", ann.Kind, "message", ann.Message)
	}
	return err
}

// Say announces a plain message with no haptic feedback.
func (a *Announcer) Say(ctx context.Context, kind Kind, message string) error {
	return a.Announce(ctx, Announcement{Kind: kind, Message: message})
}

// Repeat speaks the last message again.
func (a *Announcer) Repeat(ctx context.Context) error {
	last := a.Last()
	if last == "" {
		return ErrNothingToRepeat
	}
	return a.Announce(ctx, Announcement{Kind: KindCommand, Message: last})
}

// Last returns the last spoken message.
func (a *Announcer) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
