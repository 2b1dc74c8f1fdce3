package fc

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/powercal/powercal/pkg/driver"
	"github.com/powercal/powercal/pkg/driver/betaflight"
	"github.com/powercal/powercal/pkg/driver/inav"
	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/transport"
)

// DialectAuto selects the firmware by probing.
const DialectAuto = "auto"

// DefaultProbeRetries is how many extra times a timed out probe is re-sent.
const DefaultProbeRetries = 2

// Dialects returns the supported firmwares in probe priority order. INAV
// goes first since its probe uses v2 framing, which Betaflight also answers.
func Dialects() []driver.Dialect {
	return []driver.Dialect{
		inav.Dialect,
		betaflight.Dialect,
	}
}

// DialectNames returns the names accepted by Open.
func DialectNames() []string {
	names := []string{DialectAuto}
	for _, d := range Dialects() {
		names = append(names, d.Name)
	}
	return names
}

// Autodetect probes dialects in order and returns a handle for the first one
// that identifies itself. A probe is re-sent up to retries times, and only
// when it timed out.
func Autodetect(t *transport.Transport, dialects []driver.Dialect, retries int) (*Handle, error) {
	if retries < 0 {
		retries = 0
	}

	var tried []string
	for _, dialect := range dialects {
		d := dialect.New(t)
		tried = append(tried, dialect.Name)

		ok, err := probe(d, retries)
		if fcerr.Of(err) == fcerr.IOTimeout {
			logrus.WithField("dialect", dialect.Name).Debug("probe timed out")
			continue
		}
		if err != nil {
			return nil, err
		}
		if ok {
			logrus.WithField("dialect", dialect.Name).Info("firmware detected")
			return newHandle(t, d), nil
		}
		logrus.WithField("dialect", dialect.Name).Debug("probe did not match")
	}

	return nil, fcerr.New(fcerr.AutodetectFailed, "autodetect", "no firmware answered (tried %s)", strings.Join(tried, ", "))
}

func probe(d driver.Driver, retries int) (bool, error) {
	for attempt := 0; ; attempt++ {
		ok, err := d.Probe()
		if err == nil || fcerr.Of(err) != fcerr.IOTimeout || attempt >= retries {
			return ok, err
		}
		logrus.WithFields(logrus.Fields{
			"dialect": d.Name(),
			"attempt": attempt + 1,
		}).Debug("probe timed out, retrying")
	}
}

// Open returns a handle for the named dialect. DialectAuto probes; any other
// name constructs that dialect directly without probing.
func Open(t *transport.Transport, name string, retries int) (*Handle, error) {
	if name == "" || name == DialectAuto {
		return Autodetect(t, Dialects(), retries)
	}

	for _, d := range Dialects() {
		if d.Name == name {
			logrus.WithField("dialect", name).Debug("using dialect override")
			return newHandle(t, d.New(t)), nil
		}
	}
	return nil, fcerr.New(fcerr.Unsupported, "open", "unknown dialect %q, expected one of %s", name, strings.Join(DialectNames(), ", "))
}
