//go:build !codec2

package tnc

import "fmt"

// OpenModem needs libcodec2.  Build with -tags codec2 to get it.
func OpenModem(mode ModemMode) (Modem, error) {
	return nil, fmt.Errorf("%w: %s: built without libcodec2 support (build tag codec2)", ErrModemUnavailable, mode)
}
