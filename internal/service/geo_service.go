package service

import (
	"context"
	"errors"
	"strings"

	"threatguard/internal/models"
	"threatguard/internal/repository"
	"threatguard/internal/security"

	zlog "github.com/rs/zerolog/log"
)

// CountryResolver maps an IP address to an ISO alpha-2 country code.
// An empty code means the address could not be resolved.
type CountryResolver interface {
	CountryOf(ip string) (string, error)
}

type GeoService struct {
	rules    GeoRuleStore
	resolver CountryResolver
}

func NewGeoService(rules GeoRuleStore, resolver CountryResolver) *GeoService {
	return &GeoService{rules: rules, resolver: resolver}
}

func (s *GeoService) AddGeoBlockRule(ctx context.Context, countryCode, countryName, createdBy string) (*models.GeoBlockRule, error) {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	if len(code) != 2 || !isAlpha(code) {
		return nil, security.InvalidInput("INVALID_COUNTRY", "country code must be two letters: %q", countryCode)
	}
	if createdBy == "" {
		return nil, security.InvalidInput("MISSING_ACTOR", "created_by is required")
	}
	rule := &models.GeoBlockRule{
		CountryCode: code,
		CountryName: strings.TrimSpace(countryName),
		Enabled:     true,
		CreatedBy:   createdBy,
	}
	if err := s.rules.InsertGeoBlockRule(ctx, rule); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, security.Conflict("COUNTRY_ALREADY_BLOCKED", "country %s is already blocked", code)
		}
		return nil, err
	}
	zlog.Info().Str("country", code).Str("created_by", createdBy).Msg("GeoService: country blocked")
	return rule, nil
}

func (s *GeoService) GetGeoBlockRules(ctx context.Context) ([]models.GeoBlockRule, error) {
	return s.rules.GetGeoBlockRules(ctx)
}

func (s *GeoService) RemoveGeoBlockRule(ctx context.Context, id string) error {
	deleted, err := s.rules.DeleteGeoBlockRule(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return security.NotFound("GEO_RULE_NOT_FOUND", "no geo block rule with id %s", id)
	}
	zlog.Info().Str("id", id).Msg("GeoService: geo block rule removed")
	return nil
}

func (s *GeoService) SetGeoBlockRuleEnabled(ctx context.Context, id string, enabled bool) (*models.GeoBlockRule, error) {
	rule, err := s.rules.GetGeoBlockRuleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, security.NotFound("GEO_RULE_NOT_FOUND", "no geo block rule with id %s", id)
	}
	if err := s.rules.UpdateGeoBlockRuleEnabled(ctx, id, enabled); err != nil {
		return nil, err
	}
	rule.Enabled = enabled
	return rule, nil
}

func (s *GeoService) IsCountryBlocked(ctx context.Context, countryCode string) (bool, error) {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	if code == "" {
		return false, nil
	}
	return s.rules.HasEnabledGeoBlockRule(ctx, code)
}

// IsIPGeoBlocked resolves the address to a country and checks it against
// the enabled rules. Unresolvable addresses are allowed.
func (s *GeoService) IsIPGeoBlocked(ctx context.Context, ip string) (bool, string, error) {
	if s.resolver == nil {
		return false, "", nil
	}
	code, err := s.resolver.CountryOf(ip)
	if err != nil {
		zlog.Debug().Err(err).Str("ip", ip).Msg("GeoService: country lookup failed")
		return false, "", nil
	}
	if code == "" {
		return false, "", nil
	}
	blocked, err := s.rules.HasEnabledGeoBlockRule(ctx, code)
	if err != nil {
		return false, code, err
	}
	return blocked, code, nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
