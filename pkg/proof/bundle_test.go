package proof

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleParams() Params {
	return Params{
		Publish: PublishAnchor{ContentID: "c-1", OwnerID: "u-1", ManifestSha256: "aa", PublishedAt: "2026-01-01T00:00:00Z", AnchorHash: "bb"},
		Split:   SplitAnchor{SplitVersionID: "sv-1", ContentID: "c-1", Version: 1, LockedManifestSha256: "aa", LockedAt: "2026-01-01T00:00:00Z", SplitsHash: "cc"},
		Settlement: &SettlementReceipt{
			SettlementID: "s-1", PaymentIntentID: "pi-1", Currency: "sat", NetAmount: 10000,
			Lines: []ReceiptLine{{Recipient: "u-1", Role: "owner", Amount: 10000}},
		},
		CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

func TestBuildBundleHashCoversPersistedShape(t *testing.T) {
	b, err := BuildBundle(sampleParams())
	require.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{64}$", b.BundleHash)

	again, err := BundleHash(b)
	require.NoError(t, err)
	assert.Equal(t, b.BundleHash, again)
	assert.NoError(t, Verify(b))
}

func TestBundleHashIgnoresSignatures(t *testing.T) {
	b, err := BuildBundle(sampleParams())
	require.NoError(t, err)

	withSigs := b
	withSigs.Signatures = []Signature{{Algorithm: "ed25519", PublicKey: "x", Signature: "y"}}
	h1, err := BundleHash(b)
	require.NoError(t, err)
	h2, err := BundleHash(withSigs)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	asMap := map[string]any{"version": "v", "bundleHash": "ignored", "signatures": "anything"}
	h3, err := BundleHash(asMap)
	require.NoError(t, err)
	h4, err := BundleHash(map[string]any{"version": "v", "signatures": []any{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, h3, h4)
}

func TestBundleHashDetectsTampering(t *testing.T) {
	b, err := BuildBundle(sampleParams())
	require.NoError(t, err)

	b.Settlement.Lines[0].Amount = 9999
	assert.ErrorIs(t, Verify(b), ErrHashMismatch)
}

func TestSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NotNil(t, pub)

	b, err := BuildBundle(sampleParams())
	require.NoError(t, err)
	hash := b.BundleHash

	require.NoError(t, Sign(&b, "platform", priv, time.Now()))
	require.Len(t, b.Signatures, 1)
	assert.Equal(t, hash, b.BundleHash)
	assert.NoError(t, Verify(b))

	raw, err := base64.StdEncoding.DecodeString(b.Signatures[0].Signature)
	require.NoError(t, err)
	raw[0] ^= 0xff
	b.Signatures[0].Signature = base64.StdEncoding.EncodeToString(raw)
	assert.ErrorIs(t, Verify(b), ErrInvalidSignature)
}
