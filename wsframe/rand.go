package wsframe

import "crypto/rand"

// fillRandom fills key with cryptographically random bytes for frame
// masking, as RFC 6455 requires client-to-server frames to be masked
// with an unpredictable key.
func fillRandom(key []byte) error {
	_, err := rand.Read(key)
	return err
}
