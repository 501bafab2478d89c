package packet

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/srtlab/srtgo/seq"
)

// SaltSize is the size of the per-connection stream salt derived during
// handshake conclusion when both peers advertise CapEncryption.
const SaltSize = 16

// DeriveStreamSalt derives a per-connection salt from both peers'
// initial sequence numbers and socket IDs using HKDF-SHA256. Concrete
// cipher suites are out of scope for this module; this function only
// produces the key-schedule bookkeeping a handshake must perform when
// the encryption capability bit is negotiated, so that whichever
// external cipher suite a caller plugs in has a stable salt to key off
// without this module needing to know which suite that is.
func DeriveStreamSalt(localISS, peerISS seq.Number, localSocketID, peerSocketID uint32) ([SaltSize]byte, error) {
	ikm := make([]byte, 16)
	putSeq(ikm[0:4], localISS)
	putSeq(ikm[4:8], peerISS)
	putU32(ikm[8:12], localSocketID)
	putU32(ikm[12:16], peerSocketID)

	var salt [SaltSize]byte
	r := hkdf.New(sha256.New, ikm, nil, []byte("srt stream salt"))
	if _, err := io.ReadFull(r, salt[:]); err != nil {
		return salt, err
	}
	return salt, nil
}

func putSeq(b []byte, n seq.Number) { putU32(b, n.Raw()) }

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
