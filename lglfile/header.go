// Package lglfile defines the on-disk artifact formats of the ledger: the
// shared versioned header, artifact file naming, and the codecs for
// frontiers, checkpoints, and hashing rules.
package lglfile

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Every artifact file except the chain file begins with this 4-byte header:
// the ASCII magic "lgl" followed by a format version byte.
const (
	headerSize = 4
	Version    = 0x01
)

var magic = [3]byte{'l', 'g', 'l'}

// ErrBadHeader is returned for a missing or malformed magic/version.
var ErrBadHeader = errors.New("bad artifact header")

// WriteHeader writes the magic and current version.
func WriteHeader(w io.Writer) error {
	if _, err := w.Write([]byte{magic[0], magic[1], magic[2], Version}); err != nil {
		return fmt.Errorf("writing artifact header: %w", err)
	}
	return nil
}

// ReadHeader consumes and validates the 4-byte header. A version byte ahead
// of Version is tolerated with a warning; zero or a magic mismatch fails.
func ReadHeader(r io.Reader, name string) error {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadHeader, name, err)
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] {
		return fmt.Errorf("%w: %s: magic %q", ErrBadHeader, name, buf[:3])
	}
	switch v := buf[3]; {
	case v == 0:
		return fmt.Errorf("%w: %s: version 0", ErrBadHeader, name)
	case v > Version:
		logrus.WithFields(logrus.Fields{
			"file":    name,
			"version": v,
			"current": Version,
		}).Warn("artifact file written by a newer version; proceeding")
	}
	return nil
}
