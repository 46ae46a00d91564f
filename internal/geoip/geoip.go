// Package geoip enriches events with city/country/location data looked up
// from a MaxMind-format mmdb database, reloading the database file
// transparently when it changes on disk.
package geoip

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/evebox/evebox-go/internal/evtypes"
)

// updateCheckInterval matches the reference implementation's 60 second
// recheck cadence.
const updateCheckInterval = 60 * time.Second

// staleAfter is how old a database can be before a warning is logged at
// open time.
const staleAfter = 28 * 24 * time.Hour

// defaultPaths is the search list consulted when no explicit path is
// configured.
var defaultPaths = []string{
	"/etc/evebox/GeoLite2-City.mmdb",
	"/usr/local/share/GeoIP/GeoLite2-City.mmdb",
	"/usr/share/GeoIP/GeoLite2-City.mmdb",
	"./GeoLite2-City.mmdb",
}

// GeoIP enriches records with city-level location data for src_ip/dest_ip.
type GeoIP struct {
	log      *zap.Logger
	filename string

	mu               sync.Mutex
	reader           *geoip2.Reader
	lastModified     time.Time
	lastUpdateCheck  time.Time
}

// Open opens filename (or, if empty, the first of defaultPaths that
// exists) as a MaxMind City database.
func Open(log *zap.Logger, filename string) (*GeoIP, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if filename == "" {
		found, ok := findDatabase()
		if !ok {
			return nil, fmt.Errorf("no GeoIP database file found in default search paths")
		}
		filename = found
	}
	r, err := geoip2.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", filename, err)
	}

	buildTime := time.Unix(int64(r.Metadata().BuildEpoch), 0).UTC()
	if time.Since(buildTime) > staleAfter {
		log.Warn("GeoIP database is older than 4 weeks", zap.String("filename", filename), zap.Time("built", buildTime))
	}
	log.Info("loaded GeoIP database", zap.String("filename", filename), zap.Time("built", buildTime))

	lastMod, err := lastModified(filename)
	if err != nil {
		log.Error("failed to stat GeoIP database, reload will not be enabled", zap.Error(err))
	}

	return &GeoIP{
		log:             log,
		filename:        filename,
		reader:          r,
		lastModified:    lastMod,
		lastUpdateCheck: time.Now(),
	}, nil
}

func findDatabase() (string, bool) {
	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func lastModified(filename string) (time.Time, error) {
	fi, err := os.Stat(filename)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// checkForUpdate re-stats the database file if enough time has passed
// since the last check, reopening it if it has changed. Must be called
// with g.mu held.
func (g *GeoIP) checkForUpdate() {
	if time.Since(g.lastUpdateCheck) < updateCheckInterval {
		return
	}
	g.lastUpdateCheck = time.Now()

	modTime, err := lastModified(g.filename)
	if err != nil {
		g.log.Warn("failed to stat GeoIP database for reload check", zap.Error(err))
		return
	}
	if !modTime.After(g.lastModified) {
		return
	}
	newReader, err := geoip2.Open(g.filename)
	if err != nil {
		g.log.Error("failed to reopen updated GeoIP database", zap.Error(err))
		return
	}
	old := g.reader
	g.reader = newReader
	g.lastModified = modTime
	_ = old.Close()
	g.log.Info("reloaded GeoIP database", zap.String("filename", g.filename))
}

// Close releases the underlying mmdb file handle.
func (g *GeoIP) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

// Enrich adds geoip_source/geoip_destination objects to rec, based on
// src_ip/dest_ip. Absent or unparseable addresses are skipped silently.
func (g *GeoIP) Enrich(rec evtypes.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkForUpdate()

	if addr, ok := rec.String("src_ip"); ok {
		if city := g.lookup(addr); city != nil {
			rec["geoip_source"] = city
		}
	}
	if addr, ok := rec.String("dest_ip"); ok {
		if city := g.lookup(addr); city != nil {
			rec["geoip_destination"] = city
		}
	}
}

// lookup returns the enrichment object for addr, or nil if it can't be
// resolved.
func (g *GeoIP) lookup(addr string) map[string]any {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil
	}
	city, err := g.reader.City(ip)
	if err != nil {
		return nil
	}
	obj := map[string]any{}
	if name, ok := city.City.Names["en"]; ok && name != "" {
		obj["city_name"] = name
	}
	if name, ok := city.Country.Names["en"]; ok && name != "" {
		obj["country_name"] = name
	}
	if city.Country.IsoCode != "" {
		obj["country_iso_code"] = city.Country.IsoCode
	}
	if len(city.Subdivisions) > 0 {
		sub := city.Subdivisions[0]
		if name, ok := sub.Names["en"]; ok && name != "" {
			obj["region_name"] = name
		}
		if sub.IsoCode != "" {
			obj["region_iso_code"] = sub.IsoCode
		}
	}
	if city.Location.Latitude != 0 || city.Location.Longitude != 0 {
		obj["location"] = map[string]any{
			"lat": city.Location.Latitude,
			"lon": city.Location.Longitude,
		}
	}
	if name, ok := city.Continent.Names["en"]; ok && name != "" {
		obj["continent_name"] = name
	}
	if len(obj) == 0 {
		return nil
	}
	return obj
}
