package items

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentQueries bounds the store round trips issued by one call.
const maxConcurrentQueries = 8

// PropagateLocation moves every item that travels with userID: the items the
// user owns and still holds, and the items the user borrowed from others.
func (s *Service) PropagateLocation(ctx context.Context, userID string, loc models.Location) error {
	owned, err := s.store.ListItemsByOwner(ctx, userID)
	if err != nil {
		return err
	}
	held, err := s.store.ListItemsByHolder(ctx, userID)
	if err != nil {
		return err
	}

	var moving []string
	for _, item := range owned {
		if item.HolderId == nil || *item.HolderId == userID {
			moving = append(moving, item.Id)
		}
	}
	for _, item := range held {
		if item.OwnerId != userID {
			moving = append(moving, item.Id)
		}
	}

	geohash := geo.Encode(loc)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for _, id := range moving {
		g.Go(func() error {
			return s.store.SetItemLocation(gctx, id, loc, geohash)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to propagate location of user %s: %w", userID, err)
	}

	slog.Debug("propagated location", "user_id", userID, "items", len(moving))
	return nil
}

// ItemsByRadius returns the items within radiusKm of center that match filter.
// One range query per bounding box runs concurrently; results keep range order,
// are filtered by exact distance and de-duplicated.
func (s *Service) ItemsByRadius(ctx context.Context, center models.Location, radiusKm float64, filter models.ItemFilter) ([]models.Item, error) {
	if !geo.ValidLocation(center) {
		return nil, fmt.Errorf("invalid center %v: %w", center, storage.ErrInvalidInput)
	}
	if !(radiusKm > 0) {
		return nil, fmt.Errorf("radius must be positive: %w", storage.ErrInvalidInput)
	}
	ranges := geo.BoundingBoxes(center, radiusKm)

	results := make([][]models.Item, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for i, r := range ranges {
		g.Go(func() error {
			items, err := s.store.QueryItemsByGeohash(gctx, r, filter)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to query items by radius: %w", err)
	}

	seen := make(map[string]struct{})
	var out []models.Item
	for _, batch := range results {
		for _, item := range batch {
			if _, dup := seen[item.Id]; dup {
				continue
			}
			if !geo.WithinRadius(item.Location, center, radiusKm) {
				continue
			}
			seen[item.Id] = struct{}{}
			out = append(out, item)
		}
	}
	return out, nil
}
