package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/accountabilityatlas/warden/models"

	"github.com/google/uuid"
)

// Loads an item for a primary content edit. Moderators may only edit content which
// is still PENDING; ADMIN may also edit reviewed content.
func (w *Workflow) editableItem(ctx context.Context, itemID uuid.UUID, actor Actor) (*models.ModerationItem, error) {
	item, err := w.Store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ModerationStatusPending && !actor.HasRole(RoleAdmin) {
		return nil, fmt.Errorf("%w: moderators can only modify PENDING content (current status: %s)", ErrStatusNotAllowed, item.Status)
	}
	return item, nil
}

func upstreamErr(op string, err error) error {
	if errors.Is(err, ErrUpstream) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}

func (w *Workflow) UpdateContentMetadata(ctx context.Context, itemID uuid.UUID, actor Actor, meta ContentMetadata) (*models.ModerationItem, error) {
	if meta.VideoDate != nil {
		if _, err := time.Parse(time.DateOnly, *meta.VideoDate); err != nil {
			return nil, fmt.Errorf("%w: videoDate must be formatted YYYY-MM-DD", ErrValidation)
		}
	}
	item, err := w.editableItem(ctx, itemID, actor)
	if err != nil {
		return nil, err
	}
	if err := w.Content.UpdateMetadata(ctx, item.ContentID, meta); err != nil {
		return nil, upstreamErr("updating content metadata", err)
	}
	w.logger().Info("content metadata updated", "item", item.ID, "content", item.ContentID, "actor", actor.ID)
	return item, nil
}

func (w *Workflow) AddContentLocation(ctx context.Context, itemID uuid.UUID, actor Actor, locationID uuid.UUID, isPrimary bool) (*models.ModerationItem, error) {
	if locationID == uuid.Nil {
		return nil, fmt.Errorf("%w: locationId is required", ErrValidation)
	}
	item, err := w.editableItem(ctx, itemID, actor)
	if err != nil {
		return nil, err
	}
	if err := w.Content.AddLocation(ctx, item.ContentID, locationID, isPrimary); err != nil {
		return nil, upstreamErr("adding content location", err)
	}
	w.logger().Info("content location added", "item", item.ID, "content", item.ContentID, "location", locationID, "primary", isPrimary, "actor", actor.ID)
	return item, nil
}

func (w *Workflow) RemoveContentLocation(ctx context.Context, itemID uuid.UUID, actor Actor, locationID uuid.UUID) error {
	item, err := w.editableItem(ctx, itemID, actor)
	if err != nil {
		return err
	}
	if err := w.Content.RemoveLocation(ctx, item.ContentID, locationID); err != nil {
		return upstreamErr("removing content location", err)
	}
	w.logger().Info("content location removed", "item", item.ID, "content", item.ContentID, "location", locationID, "actor", actor.ID)
	return nil
}
