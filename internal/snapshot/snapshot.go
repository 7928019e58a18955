// Package snapshot exports the lease journal as a compressed, optionally
// encrypted and signed archive.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"

	"leased/internal/lease"
)

// Manifest is the JSON document stored inside an archive.
type Manifest struct {
	CreatedAt time.Time     `json:"created_at"`
	Server    string        `json:"server"`
	Count     int           `json:"count"`
	Leases    []lease.Lease `json:"leases"`
}

// Archive is an encoded snapshot ready for upload.
type Archive struct {
	Data      []byte
	SHA256    string
	Signature string
	Encrypted bool
}

type Options struct {
	// Recipient is an age X25519 recipient ("age1..."); empty disables encryption.
	Recipient string
	// Signer signs the final archive bytes when set.
	Signer *Signer
}

// Uploader stores archive bytes under bucket/key. *s3.Client satisfies it.
type Uploader interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string) error
}

func NewManifest(server string, leases []lease.Lease, now time.Time) Manifest {
	return Manifest{CreatedAt: now.UTC(), Server: server, Count: len(leases), Leases: leases}
}

// Encode renders m as JSON, compresses it with zstd, then encrypts and signs
// according to opts.
func Encode(m Manifest, opts Options) (Archive, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Archive{}, fmt.Errorf("marshal manifest: %w", err)
	}

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	if err != nil {
		return Archive{}, fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return Archive{}, fmt.Errorf("compress manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Archive{}, fmt.Errorf("compress manifest: %w", err)
	}

	out := Archive{Data: compressed.Bytes()}
	if opts.Recipient != "" {
		recipient, err := age.ParseX25519Recipient(opts.Recipient)
		if err != nil {
			return Archive{}, fmt.Errorf("parse age recipient: %w", err)
		}
		var encrypted bytes.Buffer
		w, err := age.Encrypt(&encrypted, recipient)
		if err != nil {
			return Archive{}, fmt.Errorf("encrypt snapshot: %w", err)
		}
		if _, err := w.Write(out.Data); err != nil {
			return Archive{}, fmt.Errorf("encrypt snapshot: %w", err)
		}
		if err := w.Close(); err != nil {
			return Archive{}, fmt.Errorf("encrypt snapshot: %w", err)
		}
		out.Data = encrypted.Bytes()
		out.Encrypted = true
	}

	sum := sha256.Sum256(out.Data)
	out.SHA256 = hex.EncodeToString(sum[:])

	if opts.Signer != nil {
		sig, err := opts.Signer.Sign(out.Data)
		if err != nil {
			return Archive{}, fmt.Errorf("sign snapshot: %w", err)
		}
		out.Signature = sig
	}
	return out, nil
}

// Decode reverses Encode. identity is the age secret key used when the
// archive is encrypted.
func Decode(data []byte, identity string) (Manifest, error) {
	r := io.Reader(bytes.NewReader(data))
	if identity != "" {
		id, err := age.ParseX25519Identity(identity)
		if err != nil {
			return Manifest{}, fmt.Errorf("parse age identity: %w", err)
		}
		dr, err := age.Decrypt(r, id)
		if err != nil {
			return Manifest{}, fmt.Errorf("decrypt snapshot: %w", err)
		}
		r = dr
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var m Manifest
	if err := json.NewDecoder(zr).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Upload stores a under bucket/key and, when signed, the base64 signature
// under key+".sig".
func Upload(ctx context.Context, up Uploader, bucket, key string, a Archive) error {
	if up == nil {
		return errors.New("nil uploader")
	}
	if err := up.PutObject(ctx, bucket, key, bytes.NewReader(a.Data), int64(len(a.Data)), a.SHA256); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	if a.Signature == "" {
		return nil
	}
	sig := []byte(a.Signature)
	sum := sha256.Sum256(sig)
	if err := up.PutObject(ctx, bucket, key+".sig", bytes.NewReader(sig), int64(len(sig)), hex.EncodeToString(sum[:])); err != nil {
		return fmt.Errorf("upload %s/%s.sig: %w", bucket, key, err)
	}
	return nil
}
