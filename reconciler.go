package followcache

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// MutationSink submits a follow of login and returns the confirmed entry.
type MutationSink interface {
	SubmitFollow(ctx context.Context, login string) (*Entry, error)
}

// MutationSinkFunc adapts a function to MutationSink.
type MutationSinkFunc func(ctx context.Context, login string) (*Entry, error)

// SubmitFollow - implements MutationSink.
func (f MutationSinkFunc) SubmitFollow(ctx context.Context, login string) (*Entry, error) {
	return f(ctx, login)
}

// FollowState is the lifecycle position of one follow action.
type FollowState int

const (
	FollowIdle FollowState = iota
	FollowSpeculative
	FollowConfirmed
	FollowFailed
)

func (s FollowState) String() string {
	switch s {
	case FollowIdle:
		return "idle"
	case FollowSpeculative:
		return "speculative"
	case FollowConfirmed:
		return "confirmed"
	case FollowFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FollowResult describes how a Follow call ended.
type FollowResult struct {
	Login string
	State FollowState
	// Entry is the confirmed entry when State is FollowConfirmed.
	Entry *Entry
	// Duplicate is set when a follow of the same login was already in flight
	// and this call was absorbed by it.
	Duplicate bool
}

// Reconciler drives follow actions against a Store: it shows a speculative
// entry right away, submits the follow, then confirms or rolls back the
// entry depending on the outcome.
//
// In-flight follows are tracked by the Store, so several Reconcilers on one
// Store never submit the same login twice at once.
type Reconciler struct {
	store  *Store
	sink   MutationSink
	logger *slog.Logger
}

func NewReconciler(store *Store, sink MutationSink, opts ...Option) *Reconciler {
	o := newOptions(opts)

	return &Reconciler{
		store:  store,
		sink:   sink,
		logger: o.logger.With("login", store.Login()),
	}
}

// Follow follows login.
//
// An empty login returns a *ValidationError without touching the store. A
// login that is already pending returns at once with Duplicate set. A failed
// submission rolls the speculative entry back and returns a *MutationError.
func (r *Reconciler) Follow(ctx context.Context, login string) (FollowResult, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return FollowResult{State: FollowIdle}, &ValidationError{Field: "login", Reason: "must not be empty"}
	}

	if !r.store.claimFollow(login) {
		return FollowResult{Login: login, State: FollowSpeculative, Duplicate: true}, nil
	}
	defer r.store.releaseFollow(login)

	if !r.store.beginMutation() {
		return FollowResult{Login: login, State: FollowIdle}, ErrStoreClosed
	}
	defer r.store.endMutation()

	actionID := uuid.NewString()
	logger := r.logger.With("follow_id", actionID, "followee", login)

	ctx, span := startSpan(ctx, "Reconciler.Follow",
		attribute.String("followcache.follow_id", actionID),
		attribute.String("followcache.followee", login),
	)

	r.store.Apply(func(s *CacheState) *CacheState {
		return InsertSpeculative(s, NewSpeculativeEntry(login))
	})
	logger.Debug("speculative entry inserted")

	submitCtx, stop := r.store.bind(ctx)
	confirmed, err := r.sink.SubmitFollow(submitCtx, login)
	stop()
	if err == nil {
		if confirmed == nil {
			err = ErrMalformedResponse
		} else {
			err = confirmed.Validate()
		}
	}

	if err != nil {
		r.store.Apply(func(s *CacheState) *CacheState {
			return Rollback(s, login)
		})
		mutErr := &MutationError{Login: login, Err: err}
		endSpan(span, mutErr)
		recordFollowOutcome(ctx, FollowFailed)
		logger.Warn("follow failed, speculative entry rolled back", "error", err)

		return FollowResult{Login: login, State: FollowFailed}, mutErr
	}

	entry := *confirmed
	r.store.Apply(func(s *CacheState) *CacheState {
		return ConfirmSpeculative(s, login, entry)
	})
	endSpan(span, nil)
	recordFollowOutcome(ctx, FollowConfirmed)
	logger.Info("follow confirmed", "id", entry.ID)

	return FollowResult{Login: login, State: FollowConfirmed, Entry: &entry}, nil
}

// Pending reports whether a follow of login is in flight on the store.
func (r *Reconciler) Pending(login string) bool {
	return r.store.followPending(login)
}
