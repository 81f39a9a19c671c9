package fixtures

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/notification"
	"gopkg.in/yaml.v3"
)

//go:embed notification_types.yaml
var notificationTypesYAML []byte

type typeCatalog struct {
	Types []struct {
		Kind        string `yaml:"kind"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"types"`
}

// SeedResult counts what a seed run changed
type SeedResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// NotificationTypes returns the default catalog in display order
func NotificationTypes() ([]notification.Type, error) {
	return parseNotificationTypes(notificationTypesYAML)
}

func parseNotificationTypes(data []byte) ([]notification.Type, error) {
	var catalog typeCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse notification type catalog: %w", err)
	}

	seen := make(map[notification.Kind]bool, len(catalog.Types))
	types := make([]notification.Type, 0, len(catalog.Types))
	for i, entry := range catalog.Types {
		kind := notification.Kind(entry.Kind)
		if !kind.IsValid() {
			return nil, fmt.Errorf("catalog entry %d: %w: %q", i, notification.ErrUnknownKind, entry.Kind)
		}
		if seen[kind] {
			return nil, fmt.Errorf("catalog entry %d: duplicate kind %s", i, kind)
		}
		seen[kind] = true

		types = append(types, notification.Type{
			Kind:        kind,
			Name:        entry.Name,
			Description: entry.Description,
			Active:      true,
			Position:    i + 1,
		})
	}
	return types, nil
}

// SeedNotificationTypes creates missing kinds and refreshes names and descriptions of existing ones
func SeedNotificationTypes(ctx context.Context, repo notification.TypeRepository) (*SeedResult, error) {
	types, err := NotificationTypes()
	if err != nil {
		return nil, err
	}

	result := &SeedResult{}
	for _, t := range types {
		existing, err := repo.GetByKind(ctx, t.Kind)
		if errors.Is(err, notification.ErrTypeNotFound) {
			if err := repo.Create(ctx, &t); err != nil {
				return result, fmt.Errorf("failed to create type %s: %w", t.Kind, err)
			}
			result.Created++
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to get type %s: %w", t.Kind, err)
		}

		if existing.Name == t.Name && existing.Description == t.Description {
			result.Unchanged++
			continue
		}
		existing.Name = t.Name
		existing.Description = t.Description
		if err := repo.Update(ctx, existing); err != nil {
			return result, fmt.Errorf("failed to update type %s: %w", t.Kind, err)
		}
		result.Updated++
	}

	slog.Info("Notification types seeded",
		"created", result.Created,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
	)
	return result, nil
}
