package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fabiocdo/hb-store-cdn/internal/catalog"
)

const (
	bytesPerMB = 1024 * 1024
	bytesPerGB = 1024 * 1024 * 1024
)

// managedStems is the fixed, closed set of FPKGi output file stems.
var managedStems = []string{
	"APPS", "DEMOS", "DLC", "EMULATORS", "GAMES", "HOMEBREW",
	"PS1", "PS2", "PS5", "PSP", "SAVES", "THEMES", "UNKNOWN", "UPDATES",
}

var stemByAppType = map[catalog.AppType]string{
	catalog.AppTypeApp:     "APPS",
	catalog.AppTypeDLC:     "DLC",
	catalog.AppTypeGame:    "GAMES",
	catalog.AppTypeSave:    "SAVES",
	catalog.AppTypeUpdate:  "UPDATES",
	catalog.AppTypeUnknown: "UNKNOWN",
}

// fpkgiEntry is one value in a stem's "DATA" map.
type fpkgiEntry struct {
	TitleID  string `json:"title_id"`
	Region   string `json:"region"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Release  string `json:"release"`
	Size     string `json:"size"`
	MinFW    string `json:"min_fw"`
	CoverURL string `json:"cover_url"`
}

// MarshalJSON renders an entry as a map rather than through its struct
// tags, so encoding/json's alphabetical map-key sort applies to the entry
// itself (cover_url, min_fw, name, region, ...), matching the recursive
// sort_keys=True contract the published JSON documents.
func (e fpkgiEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"title_id":  e.TitleID,
		"region":    e.Region,
		"name":      e.Name,
		"version":   e.Version,
		"release":   e.Release,
		"size":      e.Size,
		"min_fw":    e.MinFW,
		"cover_url": e.CoverURL,
	})
}

type fpkgiDocument struct {
	Data map[string]fpkgiEntry `json:"DATA"`
}

// FpkgiExporter publishes the catalog as a set of category-partitioned
// JSON files keyed by package URL (target=fpkgi).
type FpkgiExporter struct {
	OutputDir string
	Publisher URLPublisher
}

var _ Exporter = (*FpkgiExporter)(nil)

func (e *FpkgiExporter) Target() string { return "fpkgi" }

func (e *FpkgiExporter) ManagedFiles() []string {
	files := make([]string, len(managedStems))
	for i, stem := range managedStems {
		files[i] = filepath.Join(e.OutputDir, stem+".json")
	}
	return files
}

func (e *FpkgiExporter) pkgURL(item catalog.Item) string {
	return e.Publisher.PublishURL(item.PkgPath)
}

func (e *FpkgiExporter) coverURL(item catalog.Item) string {
	if item.Icon0Path == "" {
		return ""
	}
	return e.Publisher.PublishURL(item.Icon0Path)
}

// Export groups items by app_type into their managed stem and writes
// every stem's JSON atomically (temp file then rename), even when a
// stem's payload is empty — every managed stem is always rewritten, so
// nothing in ManagedFiles is ever stale after a successful Export.
func (e *FpkgiExporter) Export(items []catalog.Item) ([]string, error) {
	grouped := make(map[string]map[string]fpkgiEntry, len(managedStems))
	for _, stem := range managedStems {
		grouped[stem] = map[string]fpkgiEntry{}
	}

	for _, item := range items {
		stem, ok := stemByAppType[item.AppType]
		if !ok {
			stem = strings.ToUpper(string(item.AppType))
		}
		payload, ok := grouped[stem]
		if !ok {
			payload = map[string]fpkgiEntry{}
			grouped[stem] = payload
		}
		payload[e.pkgURL(item)] = fpkgiEntry{
			TitleID:  item.TitleID,
			Region:   string(item.ContentID.Region()),
			Name:     item.Title,
			Version:  item.Version,
			Release:  formatRelease(item.ReleaseDate),
			Size:     formatSize(item),
			MinFW:    normalizeMinFW(item.SystemVer),
			CoverURL: e.coverURL(item),
		}
	}

	if err := os.MkdirAll(e.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create fpkgi output directory: %w", err)
	}

	var written []string
	stems := make([]string, 0, len(grouped))
	for stem := range grouped {
		stems = append(stems, stem)
	}
	sort.Strings(stems)

	for _, stem := range stems {
		dest := filepath.Join(e.OutputDir, stem+".json")
		if err := writeFpkgiFile(dest, grouped[stem]); err != nil {
			return nil, fmt.Errorf("write %s: %w", dest, err)
		}
		written = append(written, dest)
	}

	writtenSet := make(map[string]struct{}, len(written))
	for _, w := range written {
		writtenSet[w] = struct{}{}
	}
	for _, managed := range e.ManagedFiles() {
		if _, ok := writtenSet[managed]; ok {
			continue
		}
		if _, err := os.Stat(managed); err == nil {
			os.Remove(managed) //nolint:errcheck
		}
	}

	return written, nil
}

func writeFpkgiFile(dest string, data map[string]fpkgiEntry) error {
	doc := fpkgiDocument{Data: data}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	raw = escapeNonASCII(raw)
	raw = append(raw, '\n')

	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".fpkgi-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dest)
}

// Cleanup deletes every currently-existing managed file.
func (e *FpkgiExporter) Cleanup() ([]string, error) {
	var removed []string
	for _, managed := range e.ManagedFiles() {
		if _, err := os.Stat(managed); err != nil {
			continue
		}
		if err := os.Remove(managed); err != nil {
			return removed, fmt.Errorf("remove %s: %w", managed, err)
		}
		removed = append(removed, managed)
	}
	return removed, nil
}

// formatRelease reformats YYYY-MM-DD to MM-DD-YYYY; returns "" when value
// is not a valid YYYY-MM-DD date.
func formatRelease(value string) string {
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return ""
	}
	return parsed.Format("01-02-2006")
}

// formatSize renders pkg_size using 1024-based B/MB/GB thresholds.
func formatSize(item catalog.Item) string {
	size := item.PkgSize
	switch {
	case size < bytesPerMB:
		return fmt.Sprintf("%d B", size)
	case size < bytesPerGB:
		return fmt.Sprintf("%.2f MB", item.ToMB())
	default:
		return fmt.Sprintf("%.2f GB", item.ToGB())
	}
}

var (
	hexSystemVerPattern = regexp.MustCompile(`^[0-9A-Fa-f]{8}$`)
	dotSystemVerPattern = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)
	allDigitsPattern    = regexp.MustCompile(`^\d+$`)
)

// normalizeMinFW decodes a raw system_ver value into a dotted firmware
// version.
func normalizeMinFW(value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ""
	}
	if dotSystemVerPattern.MatchString(raw) {
		return raw
	}

	hexValue := raw
	if lower := strings.ToLower(raw); strings.HasPrefix(lower, "0x") {
		hexValue = raw[2:]
	}
	if hexSystemVerPattern.MatchString(hexValue) {
		return decodeSystemVerHex(hexValue)
	}

	if allDigitsPattern.MatchString(raw) && len(raw) > 8 {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return raw
		}
		hex8 := fmt.Sprintf("%08X", n)
		return decodeSystemVerHex(hex8[len(hex8)-8:])
	}

	return raw
}

// decodeSystemVerHex decodes an 8-hex-digit system_ver into
// "<maj>.<min>[.<patch>]", reading each byte pair as decimal if both
// nibbles are <= 9, else as hex.
func decodeSystemVerHex(hexValue string) string {
	major := byteToDecimal(hexValue[0:2])
	minor := byteToDecimal(hexValue[2:4])
	patch := byteToDecimal(hexValue[4:6])
	if patch != 0 {
		return fmt.Sprintf("%d.%02d.%02d", major, minor, patch)
	}
	return fmt.Sprintf("%d.%02d", major, minor)
}

func byteToDecimal(byteText string) int {
	high := hexNibble(byteText[0])
	low := hexNibble(byteText[1])
	if high <= 9 && low <= 9 {
		return high*10 + low
	}
	n, _ := strconv.ParseInt(byteText, 16, 32)
	return int(n)
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return 0
	}
}
