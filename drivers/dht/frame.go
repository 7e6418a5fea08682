package dht

import "time"

const (
	frameBits = 40
	// High pulses wider than this are 1 bits (nominal 26-28 µs vs 70 µs).
	bitThreshold = 50 * time.Microsecond
)

// decodeFrame turns captured high pulses into the five frame bytes. The
// sensor's response pulse and any leading noise are skipped by only
// considering the trailing 40 pulses.
func decodeFrame(pulses []time.Duration, out *[5]byte) error {
	if len(pulses) < frameBits {
		return ErrNoResponse
	}
	data := pulses[len(pulses)-frameBits:]
	*out = [5]byte{}
	for i, w := range data {
		out[i/8] <<= 1
		if w > bitThreshold {
			out[i/8] |= 1
		}
	}
	if out[0]+out[1]+out[2]+out[3] != out[4] {
		return ErrChecksum
	}
	return nil
}

// convert returns humidity and temperature in tenths for the given model.
func convert(m Model, b [5]byte) (rh, t int32) {
	if m == DHT11 {
		// b1 and b3 count tenths.
		rh = int32(b[0])*10 + int32(b[1])
		t = int32(b[2])*10 + int32(b[3]&0x7f)
		if b[3]&0x80 != 0 {
			t = -t
		}
		return rh, t
	}
	rh = int32(b[0])<<8 | int32(b[1])
	t = int32(b[2]&0x7f)<<8 | int32(b[3])
	if b[2]&0x80 != 0 {
		t = -t
	}
	return rh, t
}

// EncodeFrame builds the five frame bytes for a reading in tenths. It is the
// inverse of convert and is used by simulators and tests.
func EncodeFrame(m Model, deciRH, deciC int32) [5]byte {
	var b [5]byte
	neg := deciC < 0
	if neg {
		deciC = -deciC
	}
	if m == DHT11 {
		b[0] = byte(deciRH / 10)
		b[1] = byte(deciRH % 10)
		b[2] = byte(deciC / 10)
		b[3] = byte(deciC % 10)
		if neg {
			b[3] |= 0x80
		}
	} else {
		b[0] = byte(deciRH >> 8)
		b[1] = byte(deciRH)
		b[2] = byte(deciC>>8) & 0x7f
		b[3] = byte(deciC)
		if neg {
			b[2] |= 0x80
		}
	}
	b[4] = b[0] + b[1] + b[2] + b[3]
	return b
}

// Pulses renders frame bytes as the high-pulse widths a sensor would emit,
// including the leading response pulse.
func Pulses(frame [5]byte) []time.Duration {
	out := make([]time.Duration, 0, frameBits+1)
	out = append(out, 80*time.Microsecond)
	for _, by := range frame {
		for bit := 7; bit >= 0; bit-- {
			if by&(1<<bit) != 0 {
				out = append(out, 70*time.Microsecond)
			} else {
				out = append(out, 27*time.Microsecond)
			}
		}
	}
	return out
}
