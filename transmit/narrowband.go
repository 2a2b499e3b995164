package transmit

import (
	"io"

	"github.com/kennyrkun/dispatcher/utils/audio"
)

// narrowbandReader companding-filters a 16-bit PCM stream on the fly. A
// sample split across reads is carried to the next one.
type narrowbandReader struct {
	r     io.Reader
	carry []byte
}

func newNarrowbandReader(r io.Reader) *narrowbandReader {
	return &narrowbandReader{r: r, carry: make([]byte, 0, 1)}
}

func (n *narrowbandReader) Read(p []byte) (int, error) {
	if len(p) < 2 {
		return 0, io.ErrShortBuffer
	}
	for {
		off := copy(p, n.carry)
		n.carry = n.carry[:0]
		m, err := n.r.Read(p[off : len(p)&^1])
		total := off + m
		even := total &^ 1
		if total > even {
			n.carry = append(n.carry, p[even])
		}
		copy(p, audio.Narrowband(p[:even]))
		if even > 0 || err != nil {
			return even, err
		}
	}
}
