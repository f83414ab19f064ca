package classifier

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Location is what a GeoLookup knows about an address. Empty strings mean
// the field is unknown.
type Location struct {
	Country string
	Region  string
	City    string
}

type GeoLookup interface {
	Lookup(ip net.IP) (Location, error)
}

// MaxMindLookup reads a GeoLite2/GeoIP2 City database.
type MaxMindLookup struct {
	reader *geoip2.Reader
}

func OpenMaxMind(path string) (*MaxMindLookup, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database %s: %w", path, err)
	}
	return &MaxMindLookup{reader: reader}, nil
}

func (m *MaxMindLookup) Lookup(ip net.IP) (Location, error) {
	record, err := m.reader.City(ip)
	if err != nil {
		return Location{}, err
	}

	loc := Location{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].IsoCode
	}
	return loc, nil
}

func (m *MaxMindLookup) Close() error {
	return m.reader.Close()
}
