package wire

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Envelope schemes. The scheme character prefixes every encoded payload,
// separated by '|'.
const (
	schemePlain      = 'p' // map string as is
	schemeZstd       = 'z' // base64(zstd(map))
	schemeSealed     = 'b' // base64(seal(map))
	schemeSealedZstd = 'c' // base64(seal(zstd(map)))
)

// maxDecoded bounds decompressed payloads.
const maxDecoded = 1 << 20

var (
	errNoKey     = errors.New("sealed payload without session key")
	errBadScheme = errors.New("unknown envelope scheme")

	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	zdec, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded), zstd.WithDecoderConcurrency(0))

	b64 = base64.RawURLEncoding
)

// seal encrypts plain with a key derived from the session key.
func seal(key string, plain []byte) ([]byte, error) {
	aead, err := sessionAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

// open reverses seal.
func open(key string, sealed []byte) ([]byte, error) {
	aead, err := sessionAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("sealed payload too short")
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, body, nil)
}

func sessionAEAD(key string) (cipher.AEAD, error) {
	derived := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(key), nil, []byte("seednet session v1"))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return chacha20poly1305.NewX(derived)
}

// wrap encodes a map string. Without a key the shorter of plain and
// compressed is used; with a key the payload is always sealed and the
// shorter of sealed-plain and sealed-compressed is used.
func wrap(plain string, key string) (string, error) {
	compressed := zenc.EncodeAll([]byte(plain), nil)
	if key == "" {
		z := b64.EncodeToString(compressed)
		if len(z) < len(plain) {
			return string(schemeZstd) + "|" + z, nil
		}
		return string(schemePlain) + "|" + plain, nil
	}
	scheme := byte(schemeSealed)
	body := []byte(plain)
	if len(compressed) < len(body) {
		scheme, body = schemeSealedZstd, compressed
	}
	sealed, err := seal(key, body)
	if err != nil {
		return "", err
	}
	return string(scheme) + "|" + b64.EncodeToString(sealed), nil
}

// unwrap returns the map string carried by an envelope.
func unwrap(s string, key string) (string, error) {
	if len(s) < 2 || s[1] != '|' {
		return "", errBadScheme
	}
	scheme, payload := s[0], s[2:]
	if scheme == schemePlain {
		return payload, nil
	}
	raw, err := b64.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("base64: %w", err)
	}
	switch scheme {
	case schemeZstd:
		return decompress(raw)
	case schemeSealed, schemeSealedZstd:
		if key == "" {
			return "", errNoKey
		}
		body, err := open(key, raw)
		if err != nil {
			return "", fmt.Errorf("open: %w", err)
		}
		if scheme == schemeSealed {
			return string(body), nil
		}
		return decompress(body)
	}
	return "", errBadScheme
}

func decompress(b []byte) (string, error) {
	out, err := zdec.DecodeAll(b, nil)
	if err != nil {
		return "", fmt.Errorf("zstd: %w", err)
	}
	if len(out) > maxDecoded {
		return "", fmt.Errorf("decoded payload exceeds %d bytes", maxDecoded)
	}
	return string(out), nil
}
