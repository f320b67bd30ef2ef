package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jcmexdev/order-approvals/internal/domain"
	"github.com/jcmexdev/order-approvals/internal/recordstore"
)

// Service validates registration commands against the record store before
// writing them to the directory.
type Service struct {
	dir        *Directory
	placements recordstore.Placements
}

func NewService(dir *Directory, placements recordstore.Placements) *Service {
	return &Service{dir: dir, placements: placements}
}

// ParseLocationID parses a user-supplied location id; it must be a positive
// integer.
func ParseLocationID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: location id %q is not a number", domain.ErrInvalidRegistration, raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: location id must be a positive number", domain.ErrInvalidRegistration)
	}
	return id, nil
}

// Register binds staff to locationID once the (staffUUID, locationID) pair
// is confirmed to exist in the store.
func (s *Service) Register(ctx context.Context, staff domain.StaffID, locationID int64, staffUUID string) (domain.RegistrationEntry, error) {
	if locationID <= 0 {
		return domain.RegistrationEntry{}, fmt.Errorf("%w: location id must be a positive number", domain.ErrInvalidRegistration)
	}
	id, err := uuid.Parse(strings.TrimSpace(staffUUID))
	if err != nil {
		return domain.RegistrationEntry{}, fmt.Errorf("%w: staff uuid %q is malformed", domain.ErrInvalidRegistration, staffUUID)
	}

	placement, err := s.placements.GetStaffPlacement(ctx, id, locationID)
	if err != nil {
		return domain.RegistrationEntry{}, fmt.Errorf("register %s: %w: %w", staff, domain.ErrStoreFailure, err)
	}
	if placement == nil {
		return domain.RegistrationEntry{}, fmt.Errorf("register %s at %d: %w", staff, locationID, domain.ErrPlacementNotFound)
	}

	entry := domain.RegistrationEntry{
		StaffID:    staff,
		LocationID: locationID,
		StaffUUID:  id.String(),
	}
	s.dir.Put(entry)
	slog.InfoContext(ctx, "staff registered", "staff_id", staff, "location_id", locationID)
	return entry, nil
}

// Directory returns the directory the service writes to.
func (s *Service) Directory() *Directory {
	return s.dir
}
