package profile

import (
	"context"
	"errors"

	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

var ErrViewerNotFound = errors.New("viewer profile not found")

// Provider returns a viewer's current position and any per-viewer overrides.
type Provider interface {
	Profile(ctx context.Context, viewerID string) (stance.ViewerProfile, error)
}

// Static serves profiles from memory. Viewers without an entry get Default.
type Static struct {
	Default  stance.ViewerProfile
	Profiles map[string]stance.ViewerProfile
}

func NewStatic(def stance.ViewerProfile) *Static {
	return &Static{Default: def, Profiles: make(map[string]stance.ViewerProfile)}
}

func (s *Static) Profile(_ context.Context, viewerID string) (stance.ViewerProfile, error) {
	p, ok := s.Profiles[viewerID]
	if !ok {
		p = s.Default
	}
	p.ViewerID = viewerID
	return p, nil
}
