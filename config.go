package tabmap

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

/*
[mapfile]
version     = 500
index_mode  = balanced
quadrant    = 1
bounds      = -180,-90,180,90
dedup_tools = true
log_level   = info
*/

// LoadOptions reads the [mapfile] section of an ini file. Missing keys keep
// the values of DefaultOptions.
func LoadOptions(path string) (*Options, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return parseOptions(f.Section("mapfile"))
}

func parseOptions(section *ini.Section) (*Options, error) {
	opts := *DefaultOptions
	opts.Version = int16(section.Key("version").MustInt(int(DefaultOptions.Version)))

	switch mode := strings.ToLower(section.Key("index_mode").MustString("balanced")); mode {
	case "balanced":
		opts.IndexMode = IndexBalanced
	case "direct":
		opts.IndexMode = IndexDirect
	default:
		return nil, errors.Errorf("index_mode %q", mode)
	}

	q := section.Key("quadrant").MustInt(int(QuadrantNE))
	if q < 0 || q > int(QuadrantSE) {
		return nil, errors.Wrapf(ErrBounds, "quadrant %d", q)
	}
	opts.Quadrant = Quadrant(q)

	if s := section.Key("bounds").String(); s != "" {
		b, err := parseBounds(s)
		if err != nil {
			return nil, err
		}
		opts.Bounds = b
	}

	opts.DedupTools = section.Key("dedup_tools").MustBool(DefaultOptions.DedupTools)

	if s := section.Key("log_level").String(); s != "" {
		level, err := log.ParseLevel(s)
		if err != nil {
			return nil, errors.Wrap(err, "log_level")
		}
		logger := log.New()
		logger.SetLevel(level)
		opts.Logger = logger
	}
	return &opts, nil
}

// parseBounds reads "minx,miny,maxx,maxy".
func parseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, errors.Wrapf(ErrBounds, "%q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, errors.Wrapf(ErrBounds, "%q: %v", s, err)
		}
		v[i] = f
	}
	b := orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	if !(b.Max[0] > b.Min[0]) || !(b.Max[1] > b.Min[1]) {
		return orb.Bound{}, errors.Wrapf(ErrBounds, "%q", s)
	}
	return b, nil
}
