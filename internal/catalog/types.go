// Package catalog holds the canonical data model for the homebrew content
// catalog: content identifiers, app types, PARAM.SFO snapshots, and the
// catalog row itself, plus the SQLite-backed repository that owns them.
package catalog

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"fmt"
	"regexp"
	"strings"
)

// Region is a derived tag for a ContentId's region prefix.
type Region string

const (
	RegionUSA     Region = "USA"
	RegionEUR     Region = "EUR"
	RegionJAP     Region = "JAP"
	RegionAsia    Region = "ASIA"
	RegionUnknown Region = "UNKNOWN"
)

var regionByPrefix = map[string]Region{
	"UP": RegionUSA,
	"EP": RegionEUR,
	"JP": RegionJAP,
	"HP": RegionAsia,
	"AP": RegionAsia,
	"KP": RegionAsia,
}

// contentIDPattern matches RR####-TTTT#####_##-IIIIIIIIIIIIIIII.
var contentIDPattern = regexp.MustCompile(`^[A-Za-z]{2}\d{4}-[A-Za-z]{4}\d{5}_\d{2}-[0-9A-Za-z]{16}$`)

// ContentId is the opaque identifier parsed from PKG metadata.
type ContentId struct {
	value string
}

// ParseContentID validates and wraps a raw CONTENT_ID value.
func ParseContentID(raw string) (ContentId, error) {
	if raw == "" {
		return ContentId{}, fmt.Errorf("content id: empty")
	}
	if !contentIDPattern.MatchString(raw) {
		return ContentId{}, fmt.Errorf("content id %q: does not match RR####-TTTT#####_##-IIIIIIIIIIIIIIII", raw)
	}
	return ContentId{value: raw}, nil
}

func (c ContentId) String() string { return c.value }

// Region derives the region tag from the content id's two-character prefix.
func (c ContentId) Region() Region {
	if len(c.value) < 2 {
		return RegionUnknown
	}
	prefix := strings.ToUpper(c.value[:2])
	if region, ok := regionByPrefix[prefix]; ok {
		return region
	}
	return RegionUnknown
}

// AppType is the closed set of PKG content categories.
type AppType string

const (
	AppTypeApp     AppType = "app"
	AppTypeGame    AppType = "game"
	AppTypeDLC     AppType = "dlc"
	AppTypeUpdate  AppType = "update"
	AppTypeSave    AppType = "save"
	AppTypeUnknown AppType = "unknown"
)

// AppTypes is the ordered, closed set of app types — used for directory
// layout enumeration and managed-file list generation.
var AppTypes = []AppType{AppTypeApp, AppTypeGame, AppTypeDLC, AppTypeUpdate, AppTypeSave, AppTypeUnknown}

var appTypeByCategory = map[string]AppType{
	"GD": AppTypeGame,
	"GC": AppTypeGame,
	"GP": AppTypeUpdate,
	"AC": AppTypeDLC,
	"SD": AppTypeSave,
	"AD": AppTypeApp,
	"AL": AppTypeApp,
	"AP": AppTypeApp,
	"BD": AppTypeApp,
	"DD": AppTypeApp,
}

// AppTypeFromCategory maps a PARAM.SFO CATEGORY value to an AppType.
func AppTypeFromCategory(category string) AppType {
	if t, ok := appTypeByCategory[strings.ToUpper(category)]; ok {
		return t
	}
	return AppTypeUnknown
}

// ParamSfoSnapshot is the immutable, raw-plus-parsed PARAM.SFO payload.
type ParamSfoSnapshot struct {
	Fields map[string]string
	Raw    []byte
	Hash   string
}

// NewParamSfoSnapshot computes the MD5 hash of raw and wraps it with fields.
func NewParamSfoSnapshot(fields map[string]string, raw []byte) ParamSfoSnapshot {
	sum := md5.Sum(raw) //nolint:gosec
	return ParamSfoSnapshot{
		Fields: fields,
		Raw:    raw,
		Hash:   fmt.Sprintf("%x", sum),
	}
}

// Item is the canonical catalog row.
type Item struct {
	ContentID   ContentId
	AppType     AppType
	Version     string
	TitleID     string
	Title       string
	Category    string
	PubToolInfo string
	SystemVer   string
	ReleaseDate string

	PkgPath        string
	PkgSize        int64
	PkgMtimeNS     int64
	PkgFingerprint string

	Icon0Path string
	Pic0Path  string
	Pic1Path  string

	SFO ParamSfoSnapshot

	CreatedAt string
	UpdatedAt string

	DownloadCount int64
}

// ToMB and ToGB are convenience conversions used by exporters.
func (i Item) ToMB() float64 { return float64(i.PkgSize) / (1024 * 1024) }
func (i Item) ToGB() float64 { return float64(i.PkgSize) / (1024 * 1024 * 1024) }
