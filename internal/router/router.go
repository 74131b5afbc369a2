// internal/router/router.go
package router

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"nubia/internal/event"
	"nubia/internal/projection"
)

// Result is what a routed envelope produced. Exactly one of Account, Item
// or Library is set for a handled event; Ignored marks an unrecognized
// kind that was deliberately skipped.
type Result struct {
	Kind    string                    `json:"kind"`
	Ignored bool                      `json:"ignored,omitempty"`
	Account *projection.Account       `json:"account,omitempty"`
	Item    *projection.Item          `json:"item,omitempty"`
	Library []projection.LibraryEntry `json:"library,omitempty"`
}

// Router turns envelopes into projection transitions. It owns envelope
// shape validation and the ignore arm for unrecognized kinds; payload
// field validation belongs to the handlers behind the Service.
type Router struct {
	service projection.Service
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New creates a router over the given service.
func New(service projection.Service, logger *zap.Logger) *Router {
	return &Router{
		service: service,
		tracer:  otel.Tracer("nubia/router"),
		logger:  logger,
	}
}

// Route dispatches one envelope. An empty kind fails with
// event.ErrMissingKind and never reaches a handler; an unrecognized kind
// is logged and reported as Ignored, not as a failure.
func (r *Router) Route(ctx context.Context, env event.Envelope) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "router.route",
		trace.WithAttributes(attribute.String("event.kind", env.Kind)),
	)
	defer span.End()

	payload, err := event.Decode(env)
	if errors.Is(err, event.ErrUnknownKind) {
		r.logger.Info("ignoring event", zap.String("kind", env.Kind))
		span.SetAttributes(attribute.Bool("event.ignored", true))
		return &Result{Kind: env.Kind, Ignored: true}, nil
	}
	if errors.Is(err, event.ErrMissingKind) {
		span.RecordError(err)
		return nil, err
	}
	if err != nil {
		// The kind is recognized but the payload does not parse.
		span.RecordError(err)
		return nil, &projection.ValidationError{Field: "data"}
	}

	r.logger.Debug("routing event", zap.String("kind", env.Kind))

	result := &Result{Kind: env.Kind}
	switch p := payload.(type) {
	case *event.AccountCreated:
		result.Account, err = r.service.AccountCreated(ctx, p)
	case *event.AccountUpdated:
		result.Account, err = r.service.AccountUpdated(ctx, p)
	case *event.ItemCreated:
		result.Item, err = r.service.ItemCreated(ctx, p)
	case *event.ItemUpdated:
		result.Item, err = r.service.ItemUpdated(ctx, p)
	case *event.AddToLibrary:
		result.Library, err = r.service.AddToLibrary(ctx, p.UserID, p.ItemID)
	case *event.RemoveFromLibrary:
		result.Library, err = r.service.RemoveFromLibrary(ctx, p.UserID, p.ItemID)
	case *event.GetLibrary:
		result.Library, err = r.service.GetLibrary(ctx, p.UserID)
	default:
		// Decode only returns types from the closed payload set.
		err = fmt.Errorf("%w: %T", event.ErrUnknownKind, payload)
	}

	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}
