package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Palaver/internal/db"
	"Palaver/internal/event"
	"Palaver/internal/hub"
	"Palaver/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// CallRepository is the Call Service collaborator backed by the calls
// collection. It owns the authoritative call record; the hub's
// signaling rooms are derived from it.
type CallRepository interface {
	hub.CallDirectory
	IsCallParticipant(ctx context.Context, callID, userID string) (bool, error)
}

type callRepository struct {
	calls  *db.Repository[model.Call]
	logger *zap.Logger
}

func NewCallRepository(database *mongo.Database, logger *zap.Logger) CallRepository {
	return &callRepository{
		calls:  db.NewRepository[model.Call](database, "calls"),
		logger: logger,
	}
}

func (r *callRepository) getCall(ctx context.Context, callID string) (*model.Call, error) {
	call, err := r.calls.FindOne(ctx, db.NewFilter().Eq("call_id", callID).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("call %s: %w", callID, hub.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch call: %w", err)
	}
	return call, nil
}

func (r *callRepository) GetCall(ctx context.Context, callID, userID string) (*model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	call, err := r.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.HasParticipant(userID) {
		return nil, fmt.Errorf("user %s on call %s: %w", userID, callID, hub.ErrUnauthorized)
	}
	return call, nil
}

func (r *callRepository) IsCallParticipant(ctx context.Context, callID, userID string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	call, err := r.getCall(ctx, callID)
	if err != nil {
		if errors.Is(err, hub.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return call.HasParticipant(userID), nil
}

func (r *callRepository) AcceptCall(ctx context.Context, callID, userID string) (*model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	call, err := r.GetCall(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	if call.Status.Terminal() {
		return nil, fmt.Errorf("call %s already %s: %w", callID, call.Status, hub.ErrConflict)
	}

	// First accept moves the call to active and stamps the start.
	update := bson.M{"$set": bson.M{"updated_at": time.Now().UTC()}}
	if call.Status != event.CallStatusActive {
		now := time.Now().UTC()
		update["$set"].(bson.M)["status"] = event.CallStatusActive
		update["$set"].(bson.M)["started_at"] = now
	}

	if _, err := r.calls.UpdateRaw(ctx, db.NewFilter().Eq("call_id", callID).Build(), update); err != nil {
		return nil, fmt.Errorf("failed to accept call: %w", err)
	}

	r.logger.Info("call accepted", zap.String("call_id", callID), zap.String("user_id", userID))
	return r.getCall(ctx, callID)
}

func (r *callRepository) RejectCall(ctx context.Context, callID, userID, reason string) (*model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	call, err := r.GetCall(ctx, callID, userID)
	if err != nil {
		return nil, err
	}
	if call.Status.Terminal() {
		return nil, fmt.Errorf("call %s already %s: %w", callID, call.Status, hub.ErrConflict)
	}

	update := bson.M{"$set": bson.M{"updated_at": time.Now().UTC()}}

	// A reject before anyone answered ends a two-party call outright;
	// on a group call the roster simply shrinks.
	if call.Status != event.CallStatusActive && len(call.ParticipantIDs) <= 2 {
		now := time.Now().UTC()
		update["$set"].(bson.M)["status"] = event.CallStatusRejected
		update["$set"].(bson.M)["ended_at"] = now
	} else {
		update["$pull"] = bson.M{"participant_ids": userID}
	}

	if _, err := r.calls.UpdateRaw(ctx, db.NewFilter().Eq("call_id", callID).Build(), update); err != nil {
		return nil, fmt.Errorf("failed to reject call: %w", err)
	}

	r.logger.Info("call rejected",
		zap.String("call_id", callID),
		zap.String("user_id", userID),
		zap.String("reason", reason),
	)
	return r.getCall(ctx, callID)
}

func (r *callRepository) UpdateCallStatus(ctx context.Context, callID string, status event.CallStatus) (*model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	call, err := r.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.Status.CanTransition(status) {
		return nil, fmt.Errorf("call %s cannot move %s -> %s: %w", callID, call.Status, status, hub.ErrConflict)
	}

	now := time.Now().UTC()
	set := bson.M{"status": status, "updated_at": now}
	if status == event.CallStatusActive {
		set["started_at"] = now
	}
	if status.Terminal() {
		set["ended_at"] = now
	}

	if _, err := r.calls.UpdateRaw(ctx, db.NewFilter().Eq("call_id", callID).Build(), bson.M{"$set": set}); err != nil {
		return nil, fmt.Errorf("failed to update call status: %w", err)
	}

	return r.getCall(ctx, callID)
}

func (r *callRepository) InviteParticipants(ctx context.Context, callID, inviterID string, userIDs []string) (*model.Call, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	call, err := r.getCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.HasParticipant(inviterID) {
		return nil, fmt.Errorf("user %s on call %s: %w", inviterID, callID, hub.ErrUnauthorized)
	}
	if call.Status.Terminal() {
		return nil, fmt.Errorf("call %s already %s: %w", callID, call.Status, hub.ErrConflict)
	}

	update := bson.M{
		"$addToSet": bson.M{"participant_ids": bson.M{"$each": userIDs}},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}
	if _, err := r.calls.UpdateRaw(ctx, db.NewFilter().Eq("call_id", callID).Build(), update); err != nil {
		return nil, fmt.Errorf("failed to invite participants: %w", err)
	}

	r.logger.Info("participants invited",
		zap.String("call_id", callID),
		zap.String("inviter_id", inviterID),
		zap.Strings("user_ids", userIDs),
	)
	return r.getCall(ctx, callID)
}
