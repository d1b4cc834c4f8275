// Package connections manages the connection request lifecycle between users.
package connections

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hestia/backend/internal/events"
	"github.com/hestia/backend/internal/logging"
	"github.com/hestia/backend/internal/metrics"
	"github.com/hestia/backend/internal/models"
	"github.com/hestia/backend/internal/repositories"
)

var (
	// ErrUnauthenticated indicates the caller has no session username.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidTarget indicates a missing target or a request aimed at oneself.
	ErrInvalidTarget = errors.New("invalid connection target")
	// ErrUserNotFound indicates the target username does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrRequestNotFound indicates there is no pending request to respond to.
	ErrRequestNotFound = errors.New("connection request not found")
)

// Store is the persistence required by the lifecycle manager.
type Store interface {
	CreateRequest(ctx context.Context, request models.Notification) (models.Notification, error)
	Respond(ctx context.Context, response repositories.ConnectionResponse) error
	Disconnect(ctx context.Context, left, right string) (bool, error)
	AreConnected(ctx context.Context, left, right string) (bool, error)
	HasPendingRequest(ctx context.Context, sender, recipient string) (bool, error)
	ListConnections(ctx context.Context, username string) ([]string, error)
}

// Emitter queues domain events for asynchronous publication.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload any) error
}

// Service implements requesting, answering and removing connections.
type Service struct {
	store  Store
	events Emitter
}

// NewService constructs a Service. A nil emitter disables events.
func NewService(store Store, emitter Emitter) *Service {
	return &Service{store: store, events: emitter}
}

// Request sends a connection request from requester to target. Repeated
// requests are not deduplicated.
func (s *Service) Request(ctx context.Context, requester, target string) (models.Notification, error) {
	ctx, span := logging.StartSpan(ctx, "connections.request")
	request, err := s.request(ctx, requester, strings.TrimSpace(target))
	span.End(err)
	metrics.IncConnectionRequest(metrics.Status(err))
	return request, err
}

func (s *Service) request(ctx context.Context, requester, target string) (models.Notification, error) {
	if requester == "" {
		return models.Notification{}, ErrUnauthenticated
	}
	if target == "" || target == requester {
		return models.Notification{}, ErrInvalidTarget
	}

	request, err := s.store.CreateRequest(ctx, models.Notification{
		Recipient:  target,
		Sender:     requester,
		Message:    fmt.Sprintf("%s has requested to connect with you", requester),
		ActionType: models.ActionConnectionRequest,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Notification{}, ErrUserNotFound
		}
		return models.Notification{}, fmt.Errorf("create connection request: %w", err)
	}

	s.emit(ctx, events.ConnectionRequested, events.PairPayload{From: requester, To: target})
	return request, nil
}

// Respond accepts or declines the pending request from requester to responder.
// Both parties receive an outcome notification.
func (s *Service) Respond(ctx context.Context, responder, requester string, accepted bool) error {
	ctx, span := logging.StartSpan(ctx, "connections.respond")
	err := s.respond(ctx, responder, strings.TrimSpace(requester), accepted)
	span.End(err)
	metrics.IncConnectionResponse(accepted, metrics.Status(err))
	return err
}

func (s *Service) respond(ctx context.Context, responder, requester string, accepted bool) error {
	if responder == "" {
		return ErrUnauthenticated
	}
	if requester == "" || requester == responder {
		return ErrInvalidTarget
	}

	verb, action, eventType := "declined", models.ActionConnectionDeclined, events.ConnectionDeclined
	if accepted {
		verb, action, eventType = "accepted", models.ActionConnectionAccepted, events.ConnectionAccepted
	}

	err := s.store.Respond(ctx, repositories.ConnectionResponse{
		Responder: responder,
		Requester: requester,
		Accepted:  accepted,
		Notifications: []models.Notification{
			{
				Recipient:  responder,
				Sender:     responder,
				Message:    fmt.Sprintf("You %s %s's connection request", verb, requester),
				ActionType: action,
			},
			{
				Recipient:  requester,
				Sender:     responder,
				Message:    fmt.Sprintf("%s %s your connection request", responder, verb),
				ActionType: action,
			},
		},
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrRequestNotFound
		}
		return fmt.Errorf("respond to connection request: %w", err)
	}

	s.emit(ctx, eventType, events.PairPayload{From: requester, To: responder})
	return nil
}

// Disconnect removes the connection between requester and target along with
// any pending requests. Disconnecting an unconnected pair succeeds.
func (s *Service) Disconnect(ctx context.Context, requester, target string) error {
	ctx, span := logging.StartSpan(ctx, "connections.disconnect")
	err := s.disconnect(ctx, requester, strings.TrimSpace(target))
	span.End(err)
	metrics.IncDisconnect(metrics.Status(err))
	return err
}

func (s *Service) disconnect(ctx context.Context, requester, target string) error {
	if requester == "" {
		return ErrUnauthenticated
	}
	if target == "" || target == requester {
		return ErrInvalidTarget
	}

	removed, err := s.store.Disconnect(ctx, requester, target)
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	if removed {
		s.emit(ctx, events.ConnectionRemoved, events.PairPayload{From: requester, To: target})
	}
	return nil
}

// Status reports how viewer relates to target.
func (s *Service) Status(ctx context.Context, viewer, target string) (models.ConnectionStatus, error) {
	if viewer == "" {
		return "", ErrUnauthenticated
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrInvalidTarget
	}

	connected, err := s.store.AreConnected(ctx, viewer, target)
	if err != nil {
		return "", fmt.Errorf("check connection: %w", err)
	}
	if connected {
		return models.ConnectionStatusConnected, nil
	}

	pending, err := s.store.HasPendingRequest(ctx, viewer, target)
	if err != nil {
		return "", fmt.Errorf("check pending request: %w", err)
	}
	if pending {
		return models.ConnectionStatusRequested, nil
	}
	return models.ConnectionStatusNone, nil
}

// List returns the usernames connected to username, sorted.
func (s *Service) List(ctx context.Context, username string) ([]string, error) {
	if username == "" {
		return nil, ErrUnauthenticated
	}
	peers, err := s.store.ListConnections(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return peers, nil
}

// AreConnected reports whether the pair is connected. The location service
// uses it to gate access requests.
func (s *Service) AreConnected(ctx context.Context, left, right string) (bool, error) {
	return s.store.AreConnected(ctx, left, right)
}

func (s *Service) emit(ctx context.Context, eventType string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, eventType, payload); err != nil {
		logging.FromContext(ctx).Warn("emit event", "event_type", eventType, "error", err)
	}
}
