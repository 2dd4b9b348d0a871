package codec

import (
	"fmt"

	"github.com/GriffinCanCode/workerdom/internal/protocol"
)

// Pack embeds b in a word stream as [lenLo, lenHi, words...], two bytes per
// word, little endian, with an odd tail zero padded.
func Pack(dst []uint16, b []byte) []uint16 {
	lo, hi := protocol.SplitUint32(uint32(len(b)))
	dst = append(dst, lo, hi)
	for i := 0; i < len(b); i += 2 {
		w := uint16(b[i])
		if i+1 < len(b) {
			w |= uint16(b[i+1]) << 8
		}
		dst = append(dst, w)
	}
	return dst
}

// Unpack reads a payload written by Pack at words[i]. It returns the bytes
// and the number of words consumed.
func Unpack(words []uint16, i int) ([]byte, int, error) {
	n, err := protocol.PayloadWords(words, i)
	if err != nil {
		return nil, 0, fmt.Errorf("unpack: %w", err)
	}
	size := int(protocol.JoinUint32(words[i], words[i+1]))
	out := make([]byte, size)
	for j := 0; j < size; j++ {
		w := words[i+2+j/2]
		if j%2 == 0 {
			out[j] = byte(w)
		} else {
			out[j] = byte(w >> 8)
		}
	}
	return out, n, nil
}
