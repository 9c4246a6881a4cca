// Package proof builds tamper-evident bundles of agreed terms.
//
// A bundle's hash covers every field except bundleHash and signatures, so
// signatures can be appended without changing the bundle's identity.
package proof

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/javajoker/revshare-backend/pkg/canonical"
)

const (
	BundleVersion    = "proof-v1"
	AlgorithmEd25519 = "ed25519"
)

var (
	ErrHashMismatch     = errors.New("proof: bundle hash mismatch")
	ErrInvalidSignature = errors.New("proof: invalid signature")
	ErrUnsupported      = errors.New("proof: unsupported algorithm")
)

type PublishAnchor struct {
	ContentID      string `json:"contentId"`
	OwnerID        string `json:"ownerId"`
	ManifestSha256 string `json:"manifestSha256"`
	PublishedAt    string `json:"publishedAt"`
	AnchorHash     string `json:"anchorHash"`
}

type SplitAnchor struct {
	SplitVersionID       string `json:"splitVersionId"`
	ContentID            string `json:"contentId"`
	Version              int    `json:"version"`
	LockedManifestSha256 string `json:"lockedManifestSha256"`
	LockedAt             string `json:"lockedAt"`
	SplitsHash           string `json:"splitsHash"`
}

type ReceiptLine struct {
	Recipient string `json:"recipient"`
	Role      string `json:"role"`
	Amount    int64  `json:"amount"`
}

type SettlementReceipt struct {
	SettlementID    string        `json:"settlementId"`
	PaymentIntentID string        `json:"paymentIntentId"`
	Currency        string        `json:"currency"`
	NetAmount       int64         `json:"netAmount"`
	UpstreamBps     int64         `json:"upstreamBps"`
	UpstreamAmount  int64         `json:"upstreamAmount"`
	Lines           []ReceiptLine `json:"lines"`
}

type Signature struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"keyId,omitempty"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  string `json:"signedAt"`
}

type Bundle struct {
	Version    string             `json:"version"`
	Publish    PublishAnchor      `json:"publish"`
	Split      SplitAnchor        `json:"split"`
	Settlement *SettlementReceipt `json:"settlement,omitempty"`
	CreatedAt  string             `json:"createdAt"`
	BundleHash string             `json:"bundleHash"`
	Signatures []Signature        `json:"signatures,omitempty"`
}

type Params struct {
	Publish    PublishAnchor
	Split      SplitAnchor
	Settlement *SettlementReceipt
	CreatedAt  time.Time
}

// BundleHash hashes any bundle-shaped value with bundleHash and signatures
// removed.
func BundleHash(bundle any) (string, error) {
	generic, err := canonical.ToGeneric(bundle)
	if err != nil {
		return "", err
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return "", fmt.Errorf("proof: bundle must be an object, got %T", generic)
	}
	delete(obj, "bundleHash")
	delete(obj, "signatures")
	return canonical.Sum(obj)
}

// BuildBundle assembles the bundle with an empty hash and then stamps the
// hash computed over that same shape.
func BuildBundle(p Params) (Bundle, error) {
	b := Bundle{
		Version:    BundleVersion,
		Publish:    p.Publish,
		Split:      p.Split,
		Settlement: p.Settlement,
		CreatedAt:  FormatTime(p.CreatedAt),
		BundleHash: "",
	}
	h, err := BundleHash(b)
	if err != nil {
		return Bundle{}, err
	}
	b.BundleHash = h
	return b, nil
}

// Sign appends an ed25519 signature over the raw bundle hash bytes.
func Sign(b *Bundle, keyID string, key ed25519.PrivateKey, at time.Time) error {
	digest, err := hex.DecodeString(b.BundleHash)
	if err != nil || len(digest) != 32 {
		return ErrHashMismatch
	}
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return ErrUnsupported
	}
	b.Signatures = append(b.Signatures, Signature{
		Algorithm: AlgorithmEd25519,
		KeyID:     keyID,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(key, digest)),
		SignedAt:  FormatTime(at),
	})
	return nil
}

// Verify recomputes the bundle hash and checks every attached signature.
func Verify(b Bundle) error {
	h, err := BundleHash(b)
	if err != nil {
		return err
	}
	if h != b.BundleHash {
		return ErrHashMismatch
	}
	digest, _ := hex.DecodeString(h)
	for _, sig := range b.Signatures {
		if !strings.EqualFold(strings.TrimSpace(sig.Algorithm), AlgorithmEd25519) {
			return ErrUnsupported
		}
		pub, err := base64.StdEncoding.DecodeString(sig.PublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return ErrInvalidSignature
		}
		raw, err := base64.StdEncoding.DecodeString(sig.Signature)
		if err != nil || !ed25519.Verify(ed25519.PublicKey(pub), digest, raw) {
			return ErrInvalidSignature
		}
	}
	return nil
}

// FormatTime renders timestamps the way they are hashed: UTC RFC 3339.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
