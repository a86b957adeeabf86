package push

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrInvalidPayload is returned when a push body cannot be decrypted.
var ErrInvalidPayload = errors.New("invalid push payload")

// ContentEncoding is the only encrypted content coding accepted.
const ContentEncoding = "aes128gcm"

const (
	saltLen    = 16
	headerLen  = saltLen + 4 + 1
	tagLen     = 16
	keyLen     = 16
	nonceLen   = 12
	ikmLen     = 32
	minRecSize = tagLen + 2
)

// Decrypt opens an aes128gcm push body addressed to the subscription
// holding priv and authSecret.
func Decrypt(body []byte, priv *ecdh.PrivateKey, authSecret []byte) ([]byte, error) {
	if len(body) < headerLen {
		return nil, fmt.Errorf("%w: short header", ErrInvalidPayload)
	}

	salt := body[:saltLen]
	rs := int(binary.BigEndian.Uint32(body[saltLen : saltLen+4]))
	idLen := int(body[saltLen+4])
	if rs < minRecSize {
		return nil, fmt.Errorf("%w: record size %d", ErrInvalidPayload, rs)
	}
	if len(body) < headerLen+idLen {
		return nil, fmt.Errorf("%w: short key id", ErrInvalidPayload)
	}
	keyID := body[headerLen : headerLen+idLen]
	records := body[headerLen+idLen:]
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrInvalidPayload)
	}

	senderKey, err := ecdh.P256().NewPublicKey(keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: sender key: %v", ErrInvalidPayload, err)
	}
	secret, err := priv.ECDH(senderKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", ErrInvalidPayload, err)
	}

	plaintext, err := openRecords(secret, authSecret, priv.PublicKey().Bytes(), keyID, salt, rs, records)
	if err == nil {
		return plaintext, nil
	}

	// Some senders serialize the shared secret as a big integer and drop
	// its leading zero bytes.
	if trimmed := bytes.TrimLeft(secret, "\x00"); len(trimmed) < len(secret) {
		if p, retryErr := openRecords(trimmed, authSecret, priv.PublicKey().Bytes(), keyID, salt, rs, records); retryErr == nil {
			return p, nil
		}
	}
	return nil, err
}

func openRecords(secret, authSecret, receiverKey, senderKey, salt []byte, rs int, records []byte) ([]byte, error) {
	info := make([]byte, 0, 14+len(receiverKey)+len(senderKey))
	info = append(info, "WebPush: info\x00"...)
	info = append(info, receiverKey...)
	info = append(info, senderKey...)

	ikm, err := derive(secret, authSecret, info, ikmLen)
	if err != nil {
		return nil, err
	}
	cek, err := derive(ikm, salt, []byte("Content-Encoding: aes128gcm\x00"), keyLen)
	if err != nil {
		return nil, err
	}
	baseNonce, err := derive(ikm, salt, []byte("Content-Encoding: nonce\x00"), nonceLen)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	var out []byte
	for seq := 0; len(records) > 0; seq++ {
		n := min(rs, len(records))
		record := records[:n]
		records = records[n:]
		last := len(records) == 0

		plain, err := gcm.Open(nil, recordNonce(baseNonce, uint64(seq)), record, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidPayload, seq, err)
		}
		plain, err = unpad(plain, last)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidPayload, seq, err)
		}
		out = append(out, plain...)
	}
	return out, nil
}

func derive(secret, salt, info []byte, n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

func recordNonce(base []byte, seq uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seq)
	for i := range s {
		nonce[len(nonce)-8+i] ^= s[i]
	}
	return nonce
}

// unpad strips trailing zero padding and the record delimiter, which is 2
// for the last record and 1 for any other.
func unpad(plain []byte, last bool) ([]byte, error) {
	i := len(plain) - 1
	for i >= 0 && plain[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, errors.New("missing delimiter")
	}
	want := byte(1)
	if last {
		want = 2
	}
	if plain[i] != want {
		return nil, fmt.Errorf("delimiter %d, want %d", plain[i], want)
	}
	return plain[:i], nil
}
