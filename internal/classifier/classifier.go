// Package classifier derives geography and bot status of a visitor from
// its IP address and User-Agent. Classification never fails: anything that
// cannot be resolved is reported as unknown.
package classifier

import (
	"net"
	"strings"

	"github.com/SergeiKhy/fairlink/internal/models"
	"go.uber.org/zap"
)

// Подстроки User-Agent, по которым клиент считается ботом
var defaultBotSignatures = []string{
	"bot",
	"spider",
	"crawl",
	"slurp",
	"baiduspider",
	"googlebot",
	"yandex",
	"bingbot",
	"facebookexternalhit",
	"semrushbot",
	"ahrefsbot",
	"mj12bot",
	"screaming frog",
	"datanyze",
	"sogou",
	"exabot",
	"ia_archiver",
	"curl",
	"wget",
	"python-requests",
	"apache-httpclient",
	"go-http-client",
}

type Classifier struct {
	geo        GeoLookup
	restricted map[string]struct{}
	signatures []string
	logger     *zap.Logger
}

// New builds a classifier. geo may be nil, in which case every address is
// reported as UNKNOWN.
func New(geo GeoLookup, restrictedCountries, extraSignatures []string, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	restricted := make(map[string]struct{}, len(restrictedCountries))
	for _, c := range restrictedCountries {
		restricted[strings.ToUpper(c)] = struct{}{}
	}

	signatures := make([]string, 0, len(defaultBotSignatures)+len(extraSignatures))
	signatures = append(signatures, defaultBotSignatures...)
	for _, s := range extraSignatures {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			signatures = append(signatures, s)
		}
	}

	return &Classifier{
		geo:        geo,
		restricted: restricted,
		signatures: signatures,
		logger:     logger,
	}
}

func (c *Classifier) Classify(ip, userAgent string) models.Classification {
	result := models.Classification{
		Country: models.UnknownCountry,
		IsBot:   c.IsBot(userAgent),
	}

	loc, ok := c.locate(ip)
	if ok && loc.Country != "" {
		result.Country = strings.ToUpper(loc.Country)
		if loc.Region != "" {
			result.Region = &loc.Region
		}
		if loc.City != "" {
			result.City = &loc.City
		}
	}

	_, result.IsRestrictedRegion = c.restricted[result.Country]
	return result
}

func (c *Classifier) IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, sig := range c.signatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

func (c *Classifier) locate(raw string) (Location, bool) {
	if c.geo == nil {
		return Location{}, false
	}

	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil || !isPublic(ip) {
		return Location{}, false
	}

	loc, err := c.geo.Lookup(ip)
	if err != nil {
		c.logger.Debug("Geo lookup failed", zap.String("ip", raw), zap.Error(err))
		return Location{}, false
	}
	return loc, true
}

func isPublic(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast())
}
