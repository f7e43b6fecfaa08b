// Package audio provides the canonical PCM frame codec: validation of
// incoming binary frames and the sample conversions clients perform before
// transmission.
//
// The canonical stream format is 16-bit linear PCM, mono, little-endian, at
// the session's negotiated sample rate. The server never resamples; delivery
// at the negotiated rate is the client's responsibility.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const bytesPerSample = 2

// ErrEmptyFrame indicates a zero-length binary frame.
var ErrEmptyFrame = errors.New("empty audio frame")

// ValidateFrame checks that buf is a plausible 16-bit PCM mono frame. The
// session emits an error event and continues when validation fails.
func ValidateFrame(buf []byte) error {
	if len(buf) == 0 {
		return ErrEmptyFrame
	}
	if len(buf)%bytesPerSample != 0 {
		return fmt.Errorf("frame length %d is not a multiple of %d bytes", len(buf), bytesPerSample)
	}
	return nil
}

// BytesToSamples decodes a validated little-endian PCM16 frame into samples.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*bytesPerSample:]))
	}
	return samples
}

// SamplesToBytes encodes samples as a little-endian PCM16 frame.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*bytesPerSample:], uint16(s))
	}
	return buf
}

// Downsample reduces floating samples from srcRate to dstRate by averaging
// each block of srcRate/dstRate samples. srcRate must be a positive integer
// multiple of dstRate; this is the client-side conversion performed before
// transmission.
func Downsample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("invalid rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate {
		return samples, nil
	}
	if srcRate%dstRate != 0 {
		return nil, fmt.Errorf("source rate %d is not a multiple of target rate %d", srcRate, dstRate)
	}

	ratio := srcRate / dstRate
	out := make([]float32, 0, len(samples)/ratio)
	for i := 0; i+ratio <= len(samples); i += ratio {
		var sum float32
		for _, s := range samples[i : i+ratio] {
			sum += s
		}
		out = append(out, sum/float32(ratio))
	}
	return out, nil
}

// Float32ToPCM16 converts floating samples in [-1, 1] to int16. Negative
// values scale by 32768 and positive by 32767, then clamp to the int16
// range.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		var v float32
		if s < 0 {
			v = s * 32768
		} else {
			v = s * 32767
		}
		if v < -32768 {
			v = -32768
		} else if v > 32767 {
			v = 32767
		}
		out[i] = int16(v)
	}
	return out
}
