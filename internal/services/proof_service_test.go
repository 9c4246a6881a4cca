package services

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/javajoker/revshare-backend/internal/config"
	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
	"github.com/javajoker/revshare-backend/pkg/proof"
)

type memoryArchive struct {
	mu      sync.Mutex
	enabled bool
	fail    bool
	objects map[string][]byte
}

func (a *memoryArchive) Enabled() bool { return a.enabled }

func (a *memoryArchive) Put(_ context.Context, key string, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("bucket unavailable")
	}
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[key] = append([]byte(nil), payload...)
	return nil
}

func (a *memoryArchive) Get(_ context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	payload, ok := a.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return payload, nil
}

func (a *memoryArchive) GeneratePresignedURL(key string, _ time.Duration) (string, error) {
	return "https://archive.test/" + key, nil
}

type ProofServiceTestSuite struct {
	serviceSuite
	archive *memoryArchive
	proofs  *ProofService
	alice   *models.User
	song    *models.Content
}

func TestProofServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ProofServiceTestSuite))
}

func (s *ProofServiceTestSuite) SetupTest() {
	s.serviceSuite.SetupTest()
	s.archive = &memoryArchive{enabled: true}

	proofs, err := NewProofService(s.db, s.anchors, s.archive, config.ProofConfig{
		SigningKeyHex: strings.Repeat("01", ed25519.SeedSize),
		SigningKeyID:  "platform-test",
	})
	s.Require().NoError(err)
	s.proofs = proofs

	s.alice = s.user("alice")
	s.song = s.content(s.alice, "song")
	s.lockShares(s.alice, s.song, manifestA, share{user: s.alice, bps: 10000})
}

func (s *ProofServiceTestSuite) TestRejectsMalformedSeed() {
	_, err := NewProofService(s.db, s.anchors, nil, config.ProofConfig{SigningKeyHex: "abcd"})
	assert.Error(s.T(), err)

	unsigned, err := NewProofService(s.db, s.anchors, nil, config.ProofConfig{})
	s.Require().NoError(err)
	assert.Empty(s.T(), unsigned.PlatformPublicKey())
}

func (s *ProofServiceTestSuite) TestBuildSignsAndArchives() {
	view, err := s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: s.song.ID})
	s.Require().NoError(err)

	bundle := view.Bundle
	assert.Equal(s.T(), proof.BundleVersion, bundle.Version)
	assert.Equal(s.T(), manifestA, bundle.Publish.ManifestSha256)
	assert.Len(s.T(), bundle.Publish.AnchorHash, 64)
	assert.Equal(s.T(), 1, bundle.Split.Version)
	assert.Nil(s.T(), bundle.Settlement)
	s.Require().Len(bundle.Signatures, 1)
	assert.Equal(s.T(), "platform-test", bundle.Signatures[0].KeyID)
	assert.Equal(s.T(), s.proofs.PlatformPublicKey(), bundle.Signatures[0].PublicKey)

	key := ProofKey(s.song.ID.String(), bundle.BundleHash)
	assert.Equal(s.T(), key, view.Record.ArchiveKey)
	archived, err := s.archive.Get(s.ctx, key)
	s.Require().NoError(err)
	assert.JSONEq(s.T(), view.Record.Payload, string(archived))

	stored, err := s.proofs.GetProof(s.ctx, view.Record.ID)
	s.Require().NoError(err)
	assert.Equal(s.T(), "https://archive.test/"+key, stored.ArchiveURL)

	result, err := s.proofs.VerifyProof(s.ctx, view.Record.ID)
	s.Require().NoError(err)
	assert.True(s.T(), result.Valid)
	assert.Equal(s.T(), 1, result.Signatures)
}

func (s *ProofServiceTestSuite) TestArchiveFailureKeepsProof() {
	s.archive.fail = true
	view, err := s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: s.song.ID})
	s.Require().NoError(err)
	assert.Empty(s.T(), view.Record.ArchiveKey)

	s.archive.enabled = false
	s.archive.fail = false
	view, err = s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: s.song.ID})
	s.Require().NoError(err)
	assert.Empty(s.T(), view.Record.ArchiveKey)
	assert.Empty(s.T(), s.archive.objects)

	stored, err := s.proofs.GetProof(s.ctx, view.Record.ID)
	s.Require().NoError(err)
	assert.Empty(s.T(), stored.ArchiveURL)
}

func (s *ProofServiceTestSuite) TestUnpublishedContentHasNoProof() {
	draft := s.content(s.alice, "draft")
	_, err := s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: draft.ID})
	assert.True(s.T(), utils.HasCode(err, utils.CodeSplitNotLocked))

	_, err = s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: uuid.New()})
	assert.True(s.T(), utils.HasCode(err, utils.CodeNotFound))
}

func (s *ProofServiceTestSuite) TestReceiptCoversSettlement() {
	intent := s.paidIntent(s.song.ID, manifestA, nil, 500)
	_, err := s.payments.ConfirmPayment(s.ctx, &PaymentConfirmation{
		PaymentIntentID: intent.ID,
		ContentID:       s.song.ID,
		ManifestSha256:  manifestA,
		NetAmount:       500,
	})
	s.Require().NoError(err)

	view, err := s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: s.song.ID, PaymentIntentID: &intent.ID})
	s.Require().NoError(err)
	receipt := view.Bundle.Settlement
	s.Require().NotNil(receipt)
	assert.Equal(s.T(), intent.ID.String(), receipt.PaymentIntentID)
	assert.Equal(s.T(), int64(500), receipt.NetAmount)
	s.Require().Len(receipt.Lines, 1)
	assert.Equal(s.T(), s.alice.ID.String(), receipt.Lines[0].Recipient)

	other := s.content(s.alice, "other")
	s.lockShares(s.alice, other, manifestB, share{user: s.alice, bps: 10000})
	_, err = s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: other.ID, PaymentIntentID: &intent.ID})
	assert.True(s.T(), utils.HasCode(err, utils.CodeValidationFailed))
}

func (s *ProofServiceTestSuite) TestExternalSignature() {
	view, err := s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: s.song.ID})
	s.Require().NoError(err)

	pub, priv, err := ed25519.GenerateKey(nil)
	s.Require().NoError(err)
	digest, err := hex.DecodeString(view.Bundle.BundleHash)
	s.Require().NoError(err)

	signed, err := s.proofs.SignProof(s.ctx, ByAccountID(s.alice.ID), view.Record.ID, &SignProofRequest{
		KeyID:     "alice-key",
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest)),
	})
	s.Require().NoError(err)
	assert.Len(s.T(), signed.Bundle.Signatures, 2)
	assert.Equal(s.T(), view.Bundle.BundleHash, signed.Bundle.BundleHash)

	_, err = s.proofs.SignProof(s.ctx, ByAccountID(s.alice.ID), view.Record.ID, &SignProofRequest{
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte("something else"))),
	})
	assert.True(s.T(), utils.HasCode(err, utils.CodeValidationFailed))

	_, err = s.proofs.SignProof(s.ctx, ByAccountID(s.alice.ID), view.Record.ID, &SignProofRequest{})
	s.Require().NoError(err)

	stored, err := s.proofs.GetProof(s.ctx, view.Record.ID)
	s.Require().NoError(err)
	assert.Len(s.T(), stored.Bundle.Signatures, 3)

	result, err := s.proofs.VerifyProof(s.ctx, view.Record.ID)
	s.Require().NoError(err)
	assert.True(s.T(), result.Valid)
	assert.Equal(s.T(), 3, result.Signatures)
}

func (s *ProofServiceTestSuite) TestTamperedPayloadFailsVerification() {
	view, err := s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: s.song.ID})
	s.Require().NoError(err)

	tampered := view.Bundle
	tampered.Split.SplitsHash = strings.Repeat("0", 64)
	payload, err := json.Marshal(tampered)
	s.Require().NoError(err)
	s.Require().NoError(s.db.Model(&models.ProofRecord{}).
		Where("id = ?", view.Record.ID).
		Update("payload", string(payload)).Error)

	result, err := s.proofs.VerifyProof(s.ctx, view.Record.ID)
	s.Require().NoError(err)
	assert.False(s.T(), result.Valid)
	assert.Equal(s.T(), proof.ErrHashMismatch.Error(), result.Reason)

	_, err = s.proofs.VerifyProof(s.ctx, uuid.New())
	assert.True(s.T(), utils.HasCode(err, utils.CodeNotFound))
}

func (s *ProofServiceTestSuite) TestPlatformSignatureNeedsOwnerOrParticipant() {
	bob := s.user("bob")
	mallory := s.user("mallory")
	duet := s.content(s.alice, "duet")
	s.lockShares(s.alice, duet, manifestB,
		share{user: s.alice, bps: 6000},
		share{user: bob, bps: 4000},
	)
	view, err := s.proofs.BuildProof(s.ctx, &BuildProofRequest{ContentID: duet.ID})
	s.Require().NoError(err)

	_, err = s.proofs.SignProof(s.ctx, ByAccountID(mallory.ID), view.Record.ID, &SignProofRequest{})
	assert.True(s.T(), utils.HasCode(err, utils.CodeForbidden))
	_, err = s.proofs.SignProof(s.ctx, ApproverIdentity{}, view.Record.ID, &SignProofRequest{})
	assert.True(s.T(), utils.HasCode(err, utils.CodeForbidden))

	stored, err := s.proofs.GetProof(s.ctx, view.Record.ID)
	s.Require().NoError(err)
	assert.Len(s.T(), stored.Bundle.Signatures, 1)

	signed, err := s.proofs.SignProof(s.ctx, ByEmail(bob.Email), view.Record.ID, &SignProofRequest{})
	s.Require().NoError(err)
	assert.Len(s.T(), signed.Bundle.Signatures, 2)
}
