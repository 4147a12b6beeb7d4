package dispatch

import (
	"bytes"
	"sync"

	"github.com/huykn/mastersync/protocol"
)

// scratch holds the per-request buffers: the encoded request, the assembled
// response body, and a decoder over it.
type scratch struct {
	req   bytes.Buffer
	enc   *protocol.Encoder
	chunk []byte
	body  []byte
	rd    bytes.Reader
	dec   *protocol.Decoder
}

// larger buffers are dropped rather than retained by the pool
const maxRetained = 1 << 20

var scratches sync.Pool

func init() {
	scratches.New = func() any {
		return &scratch{}
	}
}

func getScratch(v protocol.Version, limits protocol.Limits) *scratch {
	s := scratches.Get().(*scratch)
	if s.enc == nil {
		s.enc = protocol.NewEncoder(&s.req, v)
		s.dec = protocol.NewDecoder(&s.rd, v, limits)
	} else {
		s.enc.Reset(&s.req, v)
	}
	s.setLimits(v, limits)
	return s
}

func (s *scratch) setLimits(v protocol.Version, limits protocol.Limits) {
	if s.dec.Limits() != limits {
		s.dec = protocol.NewDecoder(&s.rd, v, limits)
	}
}

// decoder returns a decoder positioned at the start of payload.
func (s *scratch) decoder(payload []byte, v protocol.Version) *protocol.Decoder {
	s.rd.Reset(payload)
	s.dec.Reset(&s.rd, v)
	return s.dec
}

func putScratch(s *scratch) {
	if s == nil {
		return
	}
	if s.req.Cap() > maxRetained || cap(s.body) > maxRetained || cap(s.chunk) > maxRetained {
		return
	}
	s.req.Reset()
	s.body = s.body[:0]
	s.chunk = s.chunk[:0]
	s.rd.Reset(nil)
	scratches.Put(s)
}
