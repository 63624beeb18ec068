// Package execprobe is the production PackageProbe adapter: it shells out
// to an external pkgtool executable to list and extract PKG entries, then
// parses the extracted PARAM.SFO binary in-process. The adapter is
// context-bound and returns a typed result or a typed error, never a bare
// error string, so callers can branch on failure category.
package execprobe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fabiocdo/hb-store-cdn/internal/probe"
)

// DefaultTimeout is the per-probe deadline applied when Prober.Timeout is unset.
const DefaultTimeout = 300 * time.Second

// Prober invokes an external pkgtool binary to extract PARAM.SFO and
// ICON0 entries from a PKG file.
type Prober struct {
	PkgtoolPath string
	Timeout     time.Duration
	Env         []string
}

// New constructs a Prober with DefaultTimeout unless overridden by the
// caller via the Timeout field afterward.
func New(pkgtoolPath string) *Prober {
	return &Prober{PkgtoolPath: pkgtoolPath, Timeout: DefaultTimeout}
}

var _ probe.Probe = (*Prober)(nil)

// Probe lists PKG entries, extracts PARAM.SFO (and ICON0, best-effort),
// and parses the SFO into fields.
func (p *Prober) Probe(ctx context.Context, path, mediaDir string) (probe.Result, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries, err := p.listEntries(ctx, path)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return probe.Result{}, &probe.Error{Kind: probe.KindTimeout, Detail: path, Err: err}
		}
		return probe.Result{}, &probe.Error{Kind: probe.KindProbeFailed, Detail: "pkg_listentries failed", Err: err}
	}

	sfoIndex, ok := entries["PARAM_SFO"]
	if !ok {
		return probe.Result{}, &probe.Error{Kind: probe.KindSFOMissing, Detail: path}
	}

	tmpDir, err := os.MkdirTemp("", "pkgprobe-*")
	if err != nil {
		return probe.Result{}, &probe.Error{Kind: probe.KindProbeFailed, Detail: "create temp dir", Err: err}
	}
	defer os.RemoveAll(tmpDir) //nolint:errcheck

	sfoPath := filepath.Join(tmpDir, "PARAM.SFO")
	if err := p.extractEntry(ctx, path, sfoIndex, sfoPath); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return probe.Result{}, &probe.Error{Kind: probe.KindTimeout, Detail: path, Err: err}
		}
		return probe.Result{}, &probe.Error{Kind: probe.KindProbeFailed, Detail: "pkg_extractentry PARAM.SFO failed", Err: err}
	}

	raw, err := os.ReadFile(sfoPath)
	if err != nil {
		return probe.Result{}, &probe.Error{Kind: probe.KindProbeFailed, Detail: "read extracted PARAM.SFO", Err: err}
	}

	fields, err := ParseSFO(raw)
	if err != nil {
		return probe.Result{}, &probe.Error{Kind: probe.KindInvalidMetadata, Detail: "malformed PARAM.SFO", Err: err}
	}
	if err := probe.Validate(fields); err != nil {
		return probe.Result{}, err
	}

	result := probe.Result{Fields: fields, Raw: raw}

	contentID := fields["CONTENT_ID"]
	if iconIndex, ok := entries["ICON0_PNG"]; ok && contentID != "" {
		iconPath := filepath.Join(mediaDir, contentID+"_icon0.png")
		if _, statErr := os.Stat(iconPath); statErr != nil {
			if err := p.extractEntry(ctx, path, iconIndex, iconPath); err == nil {
				result.Icon0Path = iconPath
			}
		} else {
			result.Icon0Path = iconPath
		}
	}

	return result, nil
}

// listEntries runs "pkgtool pkg_listentries <path>" and returns a map of
// entry name to its numeric index: index is column 4 (1-based), and the
// name is whichever of columns 5/6 isn't purely numeric.
func (p *Prober) listEntries(ctx context.Context, path string) (map[string]int, error) {
	cmd := exec.CommandContext(ctx, p.PkgtoolPath, "pkg_listentries", path)
	cmd.Env = p.Env
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pkg_listentries: %w", err)
	}

	entries := map[string]int{}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) < 2 {
		return entries, nil
	}
	for _, line := range lines[1:] {
		parts := strings.Fields(line)
		if len(parts) < 5 {
			continue
		}
		index, err := strconv.Atoi(parts[3])
		if err != nil {
			continue
		}
		name := parts[4]
		if isDigits(parts[4]) && len(parts) > 5 {
			name = parts[5]
		}
		entries[name] = index
	}
	return entries, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (p *Prober) extractEntry(ctx context.Context, pkgPath string, index int, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	cmd := exec.CommandContext(ctx, p.PkgtoolPath, "pkg_extractentry", pkgPath, strconv.Itoa(index), dest)
	cmd.Env = p.Env
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pkg_extractentry: %w", err)
	}
	return nil
}

const (
	sfoMagic          = "\x00PSF"
	sfoHeaderLen      = 0x14
	sfoEntryLen       = 0x10
	sfoFmtString      = 0x0404
	sfoFmtInt         = 0x0402
)

// ParseSFO decodes a PARAM.SFO binary blob into its key-value fields.
// PUBTOOLVER is always rendered as a hex string; PUBTOOLINFO's embedded
// c_date=YYYYMMDD is additionally surfaced as a "release_date" key in
// YYYY-MM-DD form.
func ParseSFO(data []byte) (map[string]string, error) {
	if len(data) < sfoHeaderLen {
		return nil, fmt.Errorf("param.sfo: truncated header (%d bytes)", len(data))
	}
	if string(data[0:4]) != sfoMagic {
		return nil, fmt.Errorf("param.sfo: bad magic %q", data[0:4])
	}

	keyTableOffset := binary.LittleEndian.Uint32(data[8:12])
	dataTableOffset := binary.LittleEndian.Uint32(data[12:16])
	entryCount := binary.LittleEndian.Uint32(data[16:20])

	result := make(map[string]string, entryCount+1)

	for i := uint32(0); i < entryCount; i++ {
		off := sfoHeaderLen + int(i)*sfoEntryLen
		if off+sfoEntryLen > len(data) {
			return nil, fmt.Errorf("param.sfo: entry %d out of bounds", i)
		}
		keyOff := binary.LittleEndian.Uint16(data[off : off+2])
		dataFmt := binary.LittleEndian.Uint16(data[off+2 : off+4])
		dataLen := binary.LittleEndian.Uint32(data[off+4 : off+8])
		dataOff := binary.LittleEndian.Uint32(data[off+12 : off+16])

		keyStart := int(keyTableOffset) + int(keyOff)
		if keyStart >= len(data) {
			continue
		}
		keyEnd := bytes.IndexByte(data[keyStart:], 0)
		var key string
		if keyEnd < 0 {
			key = string(data[keyStart:])
		} else {
			key = string(data[keyStart : keyStart+keyEnd])
		}

		rawStart := int(dataTableOffset) + int(dataOff)
		rawEnd := rawStart + int(dataLen)
		if rawStart < 0 || rawEnd > len(data) || rawStart > rawEnd {
			continue
		}
		raw := data[rawStart:rawEnd]

		var value string
		switch {
		case key == "PUBTOOLVER":
			value = hex.EncodeToString(raw)
		case dataFmt == sfoFmtString:
			value = string(bytes.TrimRight(raw, "\x00"))
		case dataFmt == sfoFmtInt:
			if len(raw) >= 4 {
				value = strconv.FormatUint(uint64(binary.LittleEndian.Uint32(raw[:4])), 10)
			}
		default:
			trimmed := bytes.TrimRight(raw, "\x00")
			value = string(trimmed)
		}

		result[key] = value

		if key == "PUBTOOLINFO" {
			if releaseDate, ok := parsePubToolInfoDate(value); ok {
				result["release_date"] = releaseDate
			}
		}
	}

	return result, nil
}

// parsePubToolInfoDate extracts "c_date=YYYYMMDD" from a comma-separated
// PUBTOOLINFO value and reformats it as YYYY-MM-DD.
func parsePubToolInfoDate(pubToolInfo string) (string, bool) {
	for _, part := range strings.Split(pubToolInfo, ",") {
		part = strings.TrimSpace(part)
		rest, ok := strings.CutPrefix(part, "c_date=")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if len(rest) == 8 && isDigits(rest) {
			return fmt.Sprintf("%s-%s-%s", rest[0:4], rest[4:6], rest[6:8]), true
		}
		return "", false
	}
	return "", false
}
