package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/saviobatista/dongle-pairing/internal/types"
)

const (
	// StartMarker opens a dongle transcript frame
	StartMarker = "=== Received Data ==="
	// EndMarker closes a dongle transcript frame
	EndMarker = "===================="
)

// lineMatcher extracts fields from a single transcript line. The first matcher
// whose marker is contained in the line handles it.
type lineMatcher struct {
	marker  string
	extract func(line string, s *types.RawSample)
}

var (
	batchRe    = regexp.MustCompile(`Batch:\s*(?:0[xX]([0-9A-Fa-f]+)|([0-9A-Fa-f]+))\b`)
	durationRe = regexp.MustCompile(`Duration:\s*(\S+)`)
	samplesRe  = regexp.MustCompile(`Samples:\s*(\S+)`)
	fixRe      = regexp.MustCompile(`GPS Fix:\s*(\S+)`)
	satsRe     = regexp.MustCompile(`Sats:\s*(\S+)`)
	dateRe     = regexp.MustCompile(`Date:\s*(\S+)`)
	timeRe     = regexp.MustCompile(`Time:\s*(\S+)`)
	latRe      = regexp.MustCompile(`Lat:\s*(\S+)`)
	lonRe      = regexp.MustCompile(`Lon:\s*(\S+)`)
	altRe      = regexp.MustCompile(`Alt:\s*(\S+)`)
	xRe        = regexp.MustCompile(`X:\s*(\S+)`)
	yRe        = regexp.MustCompile(`Y:\s*(\S+)`)
	zRe        = regexp.MustCompile(`Z:\s*(\S+)`)
	tempRe     = regexp.MustCompile(`Temp:\s*(\S+)`)
)

var matchers = []lineMatcher{
	{marker: "Batch:", extract: extractBatch},
	{marker: "GPS Fix:", extract: extractGPSFix},
	{marker: "Lat:", extract: extractPosition},
	{marker: "Accel", extract: func(line string, s *types.RawSample) {
		s.AccelX, s.AccelY, s.AccelZ = floatToken(xRe, line), floatToken(yRe, line), floatToken(zRe, line)
	}},
	{marker: "Gyro", extract: func(line string, s *types.RawSample) {
		s.GyroX, s.GyroY, s.GyroZ = floatToken(xRe, line), floatToken(yRe, line), floatToken(zRe, line)
	}},
	{marker: "Temp:", extract: func(line string, s *types.RawSample) {
		s.TemperatureC = floatToken(tempRe, line)
	}},
}

// ParseFrame decodes the lines between a start and an end marker into a sample.
// It returns false when the frame does not carry a batch id and a position.
func ParseFrame(lines []string) (*types.RawSample, bool) {
	sample := &types.RawSample{}
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		for _, m := range matchers {
			if strings.Contains(line, m.marker) {
				m.extract(line, sample)
				break
			}
		}
	}

	if !sample.Valid() {
		return nil, false
	}
	return sample, true
}

func extractBatch(line string, s *types.RawSample) {
	// an explicit 0x prefix must be followed by at least one hex digit
	if m := batchRe.FindStringSubmatch(line); m != nil {
		s.BatchID = strings.ToUpper(m[1] + m[2])
	}
	s.SessionMs = uintToken(durationRe, line)
	s.SampleCount = uintToken(samplesRe, line)
}

func extractGPSFix(line string, s *types.RawSample) {
	s.GPSFix = intToken(fixRe, line)
	s.SatelliteCount = uintToken(satsRe, line)
	s.DateYMD = intToken(dateRe, line)

	tok := token(timeRe, line)
	if tok == "" {
		return
	}
	whole, frac, hasFrac := strings.Cut(tok, ".")
	if v, err := strconv.Atoi(whole); err == nil {
		s.TimeHMS = &v
	}
	if hasFrac {
		if v, err := strconv.Atoi(frac); err == nil {
			s.Msec = &v
		}
	}
}

func extractPosition(line string, s *types.RawSample) {
	s.Lat = floatToken(latRe, line)
	s.Lon = floatToken(lonRe, line)
	s.Alt = floatToken(altRe, line)
}

func token(re *regexp.Regexp, line string) string {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], ",;")
}

func floatToken(re *regexp.Regexp, line string) *float64 {
	tok := token(re, line)
	if tok == "" {
		return nil
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil
	}
	return &v
}

func intToken(re *regexp.Regexp, line string) *int {
	tok := token(re, line)
	if tok == "" {
		return nil
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return nil
	}
	return &v
}

func uintToken(re *regexp.Regexp, line string) *uint64 {
	tok := token(re, line)
	if tok == "" {
		return nil
	}
	v, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
