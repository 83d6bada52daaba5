package service

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	zlog "github.com/rs/zerolog/log"
)

// GeoIPService resolves IP addresses to countries with a MaxMind
// Country database. A missing database file is tolerated; lookups then
// resolve nothing and geo blocking is effectively disabled.
type GeoIPService struct {
	reader *geoip2.Reader
}

func NewGeoIPService(dbPath string) *GeoIPService {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		zlog.Warn().Err(err).Str("path", dbPath).
			Msg("GeoIPService: country database unavailable, geo lookups disabled")
		return &GeoIPService{}
	}
	zlog.Info().Str("path", dbPath).Msg("GeoIPService: country database loaded")
	return &GeoIPService{reader: reader}
}

func (s *GeoIPService) CountryOf(ipStr string) (string, error) {
	if s.reader == nil {
		return "", nil
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address: %q", ipStr)
	}
	record, err := s.reader.Country(ip)
	if err != nil {
		return "", err
	}
	return record.Country.IsoCode, nil
}

func (s *GeoIPService) Close() {
	if s.reader != nil {
		_ = s.reader.Close()
	}
}
