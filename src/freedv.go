//go:build codec2

package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	FreeDV raw data modem from libcodec2.
 *
 * Description:	Thin wrapper around the freedv_api raw data calls.
 *		All of the hard work happens in the library.
 *
 *---------------------------------------------------------------*/

// #cgo pkg-config: codec2
// #include <stdlib.h>
// #include <freedv_api.h>
import "C"

import (
	"fmt"
	"unsafe"
)

type FreeDV struct {
	mode ModemMode
	f    *C.struct_freedv

	payloadBytes int
	sampleRate   int

	rxBytes []byte
	txBuf   []int16
	ampBuf  []int16 // Preamble and postamble.
}

func freedvModeNumber(mode ModemMode) (C.int, bool) {
	switch mode {
	case Mode700D:
		return C.FREEDV_MODE_700D, true
	case ModeDATAC0:
		return C.FREEDV_MODE_DATAC0, true
	case ModeDATAC1:
		return C.FREEDV_MODE_DATAC1, true
	case ModeDATAC3:
		return C.FREEDV_MODE_DATAC3, true
	default:
		return 0, false
	}
}

func OpenModem(mode ModemMode) (Modem, error) {
	var n, ok = freedvModeNumber(mode)
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %s", ErrModemUnavailable, mode)
	}

	var f = C.freedv_open(n)
	if f == nil {
		return nil, fmt.Errorf("%w: freedv_open(%s) failed", ErrModemUnavailable, mode)
	}

	var m = &FreeDV{ //nolint:exhaustruct
		mode:         mode,
		f:            f,
		payloadBytes: int(C.freedv_get_bits_per_modem_frame(f)) / 8,
		sampleRate:   int(C.freedv_get_modem_sample_rate(f)),
	}

	m.rxBytes = make([]byte, m.payloadBytes)
	m.txBuf = make([]int16, int(C.freedv_get_n_tx_modem_samples(f)))

	if m.hasAmble() {
		var n = max(int(C.freedv_get_n_tx_preamble_modem_samples(f)), int(C.freedv_get_n_tx_postamble_modem_samples(f)))
		m.ampBuf = make([]int16, n)
	}

	return m, nil
}

// Only the data modes have burst markers.
func (m *FreeDV) hasAmble() bool {
	return m.mode != Mode700D
}

func (m *FreeDV) SampleRate() int   { return m.sampleRate }
func (m *FreeDV) PayloadBytes() int { return m.payloadBytes }
func (m *FreeDV) Nin() int          { return int(C.freedv_nin(m.f)) }
func (m *FreeDV) Sync() bool        { return C.freedv_get_sync(m.f) != 0 }

func (m *FreeDV) Demodulate(samples []int16) ([]byte, bool) {
	if len(samples) == 0 {
		return nil, false
	}

	var n = C.freedv_rawdatarx(m.f,
		(*C.uchar)(unsafe.Pointer(&m.rxBytes[0])),
		(*C.short)(unsafe.Pointer(&samples[0])))
	if n <= 0 {
		return nil, false
	}

	var out = make([]byte, m.payloadBytes)
	copy(out, m.rxBytes)

	return out, true
}

func (m *FreeDV) Modulate(payload []byte) []int16 {
	var buf = make([]byte, m.payloadBytes)
	copy(buf, payload)

	C.freedv_rawdatatx(m.f,
		(*C.short)(unsafe.Pointer(&m.txBuf[0])),
		(*C.uchar)(unsafe.Pointer(&buf[0])))

	var out = make([]int16, len(m.txBuf))
	copy(out, m.txBuf)

	return out
}

func (m *FreeDV) Preamble() []int16 {
	if !m.hasAmble() {
		return nil
	}

	var n = C.freedv_rawdatapreambletx(m.f, (*C.short)(unsafe.Pointer(&m.ampBuf[0])))

	return append([]int16(nil), m.ampBuf[:int(n)]...)
}

func (m *FreeDV) Postamble() []int16 {
	if !m.hasAmble() {
		return nil
	}

	var n = C.freedv_rawdatapostambletx(m.f, (*C.short)(unsafe.Pointer(&m.ampBuf[0])))

	return append([]int16(nil), m.ampBuf[:int(n)]...)
}

func (m *FreeDV) Close() error {
	if m.f != nil {
		C.freedv_close(m.f)
		m.f = nil
	}

	return nil
}
