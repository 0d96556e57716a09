package clearingapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// AttestationCOSE is a raw COSE_Sign1 clearing attestation.
type AttestationCOSE []byte

// AttestationCOSEBase64 is an attestation in standard padded base64, for JSON transport.
type AttestationCOSEBase64 string

// AttestationCOSEURLBase64 is an attestation in unpadded URL-safe base64.
type AttestationCOSEURLBase64 string

// AttestationCOSEGzip is a gzipped attestation in unpadded URL-safe base64,
// short enough for query strings.
type AttestationCOSEGzip string

// EncodeBase64 encodes with the standard alphabet.
func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

// EncodeURLSafe encodes with the URL-safe alphabet and no padding.
func (a AttestationCOSE) EncodeURLSafe() AttestationCOSEURLBase64 {
	return AttestationCOSEURLBase64(base64.RawURLEncoding.EncodeToString(a))
}

// CompressGzip gzips the attestation. Output is deterministic for equal input.
func (a AttestationCOSE) CompressGzip() (AttestationCOSEGzip, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(a); err != nil {
		return "", fmt.Errorf("gzip attestation: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip attestation: %w", err)
	}
	return AttestationCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

func (b AttestationCOSEBase64) String() string { return string(b) }

// Decode returns the raw COSE bytes.
func (b AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return AttestationCOSE(raw), nil
}

// CompressGzip decodes and re-encodes as AttestationCOSEGzip.
func (b AttestationCOSEBase64) CompressGzip() (AttestationCOSEGzip, error) {
	raw, err := b.Decode()
	if err != nil {
		return "", err
	}
	return raw.CompressGzip()
}

func (u AttestationCOSEURLBase64) String() string { return string(u) }

// Decode returns the raw COSE bytes. Missing padding is restored.
func (u AttestationCOSEURLBase64) Decode() (AttestationCOSE, error) {
	s := strings.TrimRight(strings.TrimSpace(string(u)), "=")
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	return AttestationCOSE(raw), nil
}

// MaxAttestationSize bounds the decompressed size of a gzip attestation.
const MaxAttestationSize = 16 << 20

func (g AttestationCOSEGzip) String() string { return string(g) }

// Decompress returns the raw COSE bytes.
func (g AttestationCOSEGzip) Decompress() (AttestationCOSE, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(string(g)))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, MaxAttestationSize+1))
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	if len(raw) > MaxAttestationSize {
		return nil, fmt.Errorf("read gzip: attestation exceeds %d bytes", MaxAttestationSize)
	}
	return AttestationCOSE(raw), nil
}

// ParseAttestation accepts an attestation in any of the transport encodings:
// gzip URL-safe, standard base64 or URL-safe base64.
func ParseAttestation(s string) (AttestationCOSE, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty attestation")
	}
	if raw, err := AttestationCOSEGzip(s).Decompress(); err == nil {
		return raw, nil
	}
	if raw, err := AttestationCOSEBase64(s).Decode(); err == nil {
		return raw, nil
	}
	return AttestationCOSEURLBase64(s).Decode()
}
