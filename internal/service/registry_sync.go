package service

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"marketplacer/internal/collector"
	"marketplacer/internal/metrics"
	"marketplacer/internal/models"
	"marketplacer/internal/ratelimit"
	"marketplacer/internal/repository"
)

// RegistrySync keeps the collector registry in line with the active
// credentials. A credential whose key changed gets a fresh collector; a
// deactivated one is removed.
type RegistrySync struct {
	Repo     repository.CredentialRepository
	Registry *collector.Registry
	Build    CollectorFactory

	// Limits, when set, forgets the request spacing of removed credentials.
	Limits ratelimit.Forgetter
	Logger *zap.Logger

	mu    sync.Mutex
	known map[uint]string
}

type RefreshResult struct {
	Added   int
	Updated int
	Removed int
	Failed  int
}

func (s *RegistrySync) Refresh(ctx context.Context) error {
	_, err := s.RefreshResult(ctx)
	return err
}

func (s *RegistrySync) RefreshResult(ctx context.Context) (RefreshResult, error) {
	var out RefreshResult
	creds, err := s.Repo.ListActiveCredentials(ctx)
	if err != nil {
		return out, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known == nil {
		s.known = map[uint]string{}
	}

	active := make(map[uint]bool, len(creds))
	for _, cred := range creds {
		active[cred.ID] = true
		fp := fingerprint(cred)
		prev, seen := s.known[cred.ID]
		if seen && prev == fp {
			continue
		}
		c, err := s.Build(cred)
		if err != nil {
			out.Failed++
			s.remove(cred.ID)
			if s.Logger != nil {
				s.Logger.Warn("collector build failed", zap.Uint("credential_id", cred.ID), zap.String("marketplace", cred.Marketplace), zap.Error(err))
			}
			continue
		}
		s.Registry.Put(c)
		s.known[cred.ID] = fp
		if seen {
			out.Updated++
		} else {
			out.Added++
		}
	}
	for _, id := range s.Registry.IDs() {
		if !active[id] {
			s.remove(id)
			out.Removed++
		}
	}

	counts := s.Registry.Count()
	for _, mp := range []string{models.MarketplaceWildberries, models.MarketplaceOzon} {
		metrics.ActiveCollectors.WithLabelValues(mp).Set(float64(counts[mp]))
	}
	if s.Logger != nil && (out.Added > 0 || out.Updated > 0 || out.Removed > 0 || out.Failed > 0) {
		s.Logger.Info("collector registry refreshed",
			zap.Int("added", out.Added),
			zap.Int("updated", out.Updated),
			zap.Int("removed", out.Removed),
			zap.Int("failed", out.Failed),
			zap.Int("total", len(s.Registry.IDs())),
		)
	}
	return out, nil
}

func (s *RegistrySync) remove(id uint) {
	if c, ok := s.Registry.Get(id); ok && s.Limits != nil {
		s.Limits.Forget(ratelimit.Key(c.Marketplace(), id))
	}
	s.Registry.Remove(id)
	delete(s.known, id)
}

func fingerprint(cred models.Credential) string {
	clientID := ""
	if cred.ClientID != nil {
		clientID = *cred.ClientID
	}
	return strings.Join([]string{cred.Marketplace, clientID, cred.Token}, "\x00")
}
