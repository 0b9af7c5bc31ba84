package sendjob

import (
	"context"
	"fmt"

	"github.com/phishsense/sendjobs/internal/domain"
)

// EnsureTrackingTokens issues a token to every eligible target that lacks
// one, in a single repository call, and updates targets in place with the
// stored values. It returns how many targets received a new token.
func EnsureTrackingTokens(ctx context.Context, repo TargetRepository, targets []domain.ProjectTarget, newToken func() string) (int, error) {
	pending := make(map[string]string)
	seen := make(map[string]bool)
	for i := range targets {
		t := &targets[i]
		if t.HasToken() {
			seen[*t.TrackingToken] = true
		}
	}
	for i := range targets {
		t := &targets[i]
		if !t.Eligible() || t.HasToken() {
			continue
		}
		tok := newToken()
		for seen[tok] {
			tok = newToken()
		}
		seen[tok] = true
		pending[t.ID] = tok
	}
	if len(pending) == 0 {
		return 0, nil
	}

	stored, err := repo.AssignTokens(ctx, pending)
	if err != nil {
		return 0, fmt.Errorf("assign tracking tokens: %w", err)
	}
	for i := range targets {
		if tok, ok := stored[targets[i].ID]; ok {
			tok := tok
			targets[i].TrackingToken = &tok
		}
	}
	return len(pending), nil
}
