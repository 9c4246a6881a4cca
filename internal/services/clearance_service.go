// internal/services/clearance_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/revshare-backend/internal/config"
	"github.com/javajoker/revshare-backend/internal/database"
	"github.com/javajoker/revshare-backend/internal/metrics"
	"github.com/javajoker/revshare-backend/internal/models"
	"github.com/javajoker/revshare-backend/internal/utils"
)

// ApproverIdentity names a voter by stable account id, by email, or by both
// when the caller is authenticated. Either one matching is enough.
type ApproverIdentity struct {
	AccountID *uuid.UUID
	Email     string
}

func ByAccountID(id uuid.UUID) ApproverIdentity {
	return ApproverIdentity{AccountID: &id}
}

func ByEmail(email string) ApproverIdentity {
	return ApproverIdentity{Email: models.NormalizeEmail(email)}
}

func (id ApproverIdentity) IsZero() bool {
	return (id.AccountID == nil || *id.AccountID == uuid.Nil) && models.NormalizeEmail(id.Email) == ""
}

func (id ApproverIdentity) hasAccount(accountID *uuid.UUID) bool {
	return id.AccountID != nil && *id.AccountID != uuid.Nil && accountID != nil && *id.AccountID == *accountID
}

func (id ApproverIdentity) hasEmail(email string) bool {
	want := models.NormalizeEmail(id.Email)
	return want != "" && want == models.NormalizeEmail(email)
}

func (id ApproverIdentity) matchesParticipant(p models.SplitParticipant) bool {
	return id.hasAccount(p.AccountID) || id.hasEmail(p.Email)
}

// Approver is one eligible voter of a parent's locked split. Participant rows
// for the same recipient are merged and their weights summed.
type Approver struct {
	Key       string     `json:"key"`
	AccountID *uuid.UUID `json:"account_id,omitempty"`
	Emails    []string   `json:"emails,omitempty"`
	WeightBps int64      `json:"weight_bps"`
}

// resolveApprover is the single place a caller identity is matched against
// the eligible set. An account match wins over an email match.
func resolveApprover(approvers []Approver, id ApproverIdentity) (*Approver, bool) {
	if id.IsZero() {
		return nil, false
	}
	for i := range approvers {
		if id.hasAccount(approvers[i].AccountID) {
			return &approvers[i], true
		}
	}
	for i := range approvers {
		for _, email := range approvers[i].Emails {
			if id.hasEmail(email) {
				return &approvers[i], true
			}
		}
	}
	return nil, false
}

// foldVotes sums each voter's current weight onto the side of their latest
// decision. Votes from identities no longer eligible weigh nothing.
func foldVotes(votes []models.ApprovalVote, weights map[string]int64) (approve, reject int64) {
	for _, v := range votes {
		w := weights[v.ApproverKey]
		switch v.Decision {
		case models.VoteApprove:
			approve += w
		case models.VoteReject:
			reject += w
		}
	}
	return approve, reject
}

// nextStatus applies the weighted-majority rule. APPROVED once approvals
// reach the target; REJECTED once rejections make the target unreachable.
// Terminal states never change.
func nextStatus(current models.AuthorizationStatus, approve, reject, eligible, target int64) models.AuthorizationStatus {
	if current == models.AuthorizationApproved || current == models.AuthorizationRejected {
		return current
	}
	if approve >= target {
		return models.AuthorizationApproved
	}
	if reject > 0 && eligible-reject < target {
		return models.AuthorizationRejected
	}
	return models.AuthorizationPending
}

type ClearanceService struct {
	db            *gorm.DB
	approvalBps   int64
	notifications *NotificationService
	metrics       *metrics.Metrics
}

type CastVoteRequest struct {
	LinkID          uuid.UUID           `json:"-"`
	Approver        ApproverIdentity    `json:"-"`
	Decision        models.VoteDecision `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	ProposedRateBps *int64              `json:"proposed_rate_bps,omitempty" validate:"omitempty,min=0,max=10000"`
}

// AuthorizationState is the clearance view returned to callers.
type AuthorizationState struct {
	Link          *models.ContentLink             `json:"link"`
	Authorization *models.DerivativeAuthorization `json:"authorization"`
	Approvers     []Approver                      `json:"approvers"`
}

func NewClearanceService(db *gorm.DB, cfg config.ClearanceConfig, notifications *NotificationService, m *metrics.Metrics) *ClearanceService {
	target := cfg.ApprovalBpsTarget
	if target <= 0 {
		target = models.DefaultApprovalBpsTarget
	}
	return &ClearanceService{
		db:            db,
		approvalBps:   target,
		notifications: notifications,
		metrics:       m,
	}
}

// RequestClearance opens the authorization for a link on first use and
// notifies the approvers. The requester must own the derivative or be an
// eligible approver.
func (s *ClearanceService) RequestClearance(ctx context.Context, linkID uuid.UUID, requester ApproverIdentity) (*AuthorizationState, error) {
	var (
		state   *AuthorizationState
		created bool
	)
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		link, approvers, err := s.clearanceContext(tx, linkID)
		if err != nil {
			return err
		}

		var child models.Content
		if err := tx.Select("id", "owner_id").First(&child, "id = ?", link.ChildContentID).Error; err != nil {
			return fmt.Errorf("failed to load derivative content: %w", err)
		}
		if _, ok := resolveApprover(approvers, requester); !ok && !requester.hasAccount(&child.OwnerID) {
			return utils.NewNotEligibleError("only the derivative owner or an approver can request clearance")
		}

		auth, fresh, err := s.lockAuthorization(tx, link, approvers)
		if err != nil {
			return err
		}
		created = fresh
		if err := tx.Where("authorization_id = ?", auth.ID).Order("created_at ASC").Find(&auth.Votes).Error; err != nil {
			return fmt.Errorf("failed to load votes: %w", err)
		}
		state = &AuthorizationState{Link: link, Authorization: auth, Approvers: approvers}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		logrus.WithFields(logrus.Fields{
			"link_id":            linkID,
			"authorization_id":   state.Authorization.ID,
			"required_approvers": state.Authorization.RequiredApprovers,
		}).Info("Clearance requested")
		if err := s.notifications.SendClearanceRequested(state.Link, state.Approvers); err != nil {
			logrus.WithError(err).WithField("link_id", linkID).Warn("Failed to notify approvers")
		}
	}
	return state, nil
}

// CastVote records one approver's decision and refolds the aggregate from
// every stored vote. The whole read-fold-write runs under a row lock on the
// link's authorization.
func (s *ClearanceService) CastVote(ctx context.Context, req *CastVoteRequest) (*AuthorizationState, error) {
	if err := utils.ValidateInput(req); err != nil {
		return nil, err
	}
	switch req.Decision {
	case models.VoteApprove:
		if req.ProposedRateBps == nil {
			return nil, utils.NewValidationError("proposed_rate_bps is required when approving")
		}
	case models.VoteReject:
		if req.ProposedRateBps != nil {
			return nil, utils.NewValidationError("proposed_rate_bps must be omitted when rejecting")
		}
	}
	if req.Approver.IsZero() {
		return nil, utils.NewValidationError("approver identity is required")
	}

	var (
		state      *AuthorizationState
		transition models.AuthorizationStatus
	)
	err := database.WithTransaction(s.db.WithContext(ctx), func(tx *gorm.DB) error {
		link, approvers, err := s.clearanceContext(tx, req.LinkID)
		if err != nil {
			return err
		}

		approver, ok := resolveApprover(approvers, req.Approver)
		if !ok {
			return utils.NewNotEligibleError("caller is not an eligible approver of the parent content")
		}

		auth, _, err := s.lockAuthorization(tx, link, approvers)
		if err != nil {
			return err
		}

		// Checked before the upsert so a mismatched vote never replaces the
		// approver's previous decision.
		if req.Decision == models.VoteApprove && auth.AgreedRateBps != nil && *auth.AgreedRateBps != *req.ProposedRateBps {
			return utils.NewConflictError(utils.CodeRateMismatch,
				"proposed rate %d bps differs from the agreed rate %d bps", *req.ProposedRateBps, *auth.AgreedRateBps)
		}

		vote := models.ApprovalVote{
			AuthorizationID: auth.ID,
			ApproverKey:     approver.Key,
			VoterAccountID:  req.Approver.AccountID,
			VoterEmail:      models.NormalizeEmail(req.Approver.Email),
			Decision:        req.Decision,
			ProposedRateBps: req.ProposedRateBps,
			WeightBps:       approver.WeightBps,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "authorization_id"}, {Name: "approver_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"voter_account_id", "voter_email", "decision", "proposed_rate_bps", "weight_bps", "updated_at"}),
		}).Create(&vote).Error; err != nil {
			return fmt.Errorf("failed to store vote: %w", err)
		}

		if req.Decision == models.VoteApprove && auth.AgreedRateBps == nil {
			rate := *req.ProposedRateBps
			auth.AgreedRateBps = &rate
		}

		var votes []models.ApprovalVote
		if err := tx.Where("authorization_id = ?", auth.ID).Order("created_at ASC").Find(&votes).Error; err != nil {
			return fmt.Errorf("failed to load votes: %w", err)
		}

		weights := make(map[string]int64, len(approvers))
		var eligible int64
		for _, a := range approvers {
			weights[a.Key] = a.WeightBps
			eligible += a.WeightBps
		}
		approve, reject := foldVotes(votes, weights)

		previous := auth.Status
		auth.ApproveWeightBps = approve
		auth.RejectWeightBps = reject
		auth.EligibleWeightBps = eligible
		auth.RequiredApprovers = len(approvers)
		auth.Status = nextStatus(previous, approve, reject, eligible, auth.ApprovalBpsTarget)

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"approve_weight_bps":  approve,
			"reject_weight_bps":   reject,
			"eligible_weight_bps": eligible,
			"required_approvers":  auth.RequiredApprovers,
			"agreed_rate_bps":     auth.AgreedRateBps,
			"status":              auth.Status,
		}
		if auth.Status != previous {
			transition = auth.Status
			switch auth.Status {
			case models.AuthorizationApproved:
				auth.ApprovedAt = &now
				updates["approved_at"] = now
			case models.AuthorizationRejected:
				auth.RejectedAt = &now
				updates["rejected_at"] = now
			}
		}
		if err := tx.Model(auth).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update authorization: %w", err)
		}

		if transition == models.AuthorizationApproved {
			// Stamped once; the guard keeps an earlier stamp in place.
			res := tx.Model(&models.ContentLink{}).
				Where("id = ? AND approved_at IS NULL", link.ID).
				Updates(map[string]interface{}{"approved_at": now, "upstream_bps": *auth.AgreedRateBps})
			if res.Error != nil {
				return fmt.Errorf("failed to stamp link approval: %w", res.Error)
			}
			if res.RowsAffected > 0 {
				link.ApprovedAt = &now
				link.UpstreamBps = *auth.AgreedRateBps
			}
		}

		auth.Votes = votes
		state = &AuthorizationState{Link: link, Authorization: auth, Approvers: approvers}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.VoteCast(string(req.Decision))
	logrus.WithFields(logrus.Fields{
		"link_id":            req.LinkID,
		"decision":           req.Decision,
		"approve_weight_bps": state.Authorization.ApproveWeightBps,
		"reject_weight_bps":  state.Authorization.RejectWeightBps,
		"status":             state.Authorization.Status,
	}).Info("Clearance vote recorded")

	if transition != "" {
		s.metrics.ClearanceTransition(string(transition))
		logrus.WithFields(logrus.Fields{
			"link_id": req.LinkID,
			"status":  transition,
		}).Info("Clearance decided")
		s.notifyDecision(ctx, state)
	}
	return state, nil
}

// GetAuthorization returns the current clearance state of a link.
func (s *ClearanceService) GetAuthorization(ctx context.Context, linkID uuid.UUID) (*AuthorizationState, error) {
	db := s.db.WithContext(ctx)
	link, err := findLink(db, linkID)
	if err != nil {
		return nil, err
	}

	var auth models.DerivativeAuthorization
	if err := db.Preload("Votes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&auth, "link_id = ?", linkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("authorization")
		}
		return nil, fmt.Errorf("failed to load authorization: %w", err)
	}

	approvers, err := eligibleApprovers(db, link.ParentContentID)
	if err != nil {
		return nil, err
	}
	return &AuthorizationState{Link: link, Authorization: &auth, Approvers: approvers}, nil
}

// clearanceContext loads the link and its approvers, refusing links that
// need no clearance and children with ambiguous parentage.
func (s *ClearanceService) clearanceContext(tx *gorm.DB, linkID uuid.UUID) (*models.ContentLink, []Approver, error) {
	link, err := findLink(tx, linkID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := requireSingleParent(tx, link.ChildContentID); err != nil {
		return nil, nil, err
	}
	if !link.RequiresApproval {
		return nil, nil, utils.NewValidationError("link does not require clearance")
	}
	approvers, err := eligibleApprovers(tx, link.ParentContentID)
	if err != nil {
		return nil, nil, err
	}
	return link, approvers, nil
}

// lockAuthorization creates the link's authorization if missing and returns
// it locked for update. created reports whether this call inserted it.
func (s *ClearanceService) lockAuthorization(tx *gorm.DB, link *models.ContentLink, approvers []Approver) (*models.DerivativeAuthorization, bool, error) {
	var eligible int64
	for _, a := range approvers {
		eligible += a.WeightBps
	}

	fresh := &models.DerivativeAuthorization{
		LinkID:            link.ID,
		RequiredApprovers: len(approvers),
		EligibleWeightBps: eligible,
		ApprovalBpsTarget: s.approvalBps,
		Status:            models.AuthorizationPending,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "link_id"}},
		DoNothing: true,
	}).Create(fresh)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create authorization: %w", res.Error)
	}

	var auth models.DerivativeAuthorization
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&auth, "link_id = ?", link.ID).Error; err != nil {
		return nil, false, fmt.Errorf("failed to lock authorization: %w", err)
	}
	return &auth, res.RowsAffected > 0, nil
}

func (s *ClearanceService) notifyDecision(ctx context.Context, state *AuthorizationState) {
	if s.notifications == nil {
		return
	}
	var owner models.User
	err := s.db.WithContext(ctx).
		Joins("JOIN contents ON contents.owner_id = users.id").
		Where("contents.id = ?", state.Link.ChildContentID).
		First(&owner).Error
	if err != nil {
		logrus.WithError(err).WithField("link_id", state.Link.ID).Warn("Failed to load derivative owner for notification")
		return
	}
	if err := s.notifications.SendClearanceDecided(owner.Email, state.Link, state.Authorization); err != nil {
		logrus.WithError(err).WithField("link_id", state.Link.ID).Warn("Failed to notify derivative owner")
	}
}

// eligibleApprovers lists the accepted participants of the parent's locked
// split, one approver per person. Email-only rows are folded into the account
// approver that owns the same email. A parent with no accepted participant
// falls back to its owner as a zero-weight approver.
func eligibleApprovers(tx *gorm.DB, parentContentID uuid.UUID) ([]Approver, error) {
	var parent models.Content
	if err := tx.Select("id", "owner_id").First(&parent, "id = ?", parentContentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("parent content")
		}
		return nil, fmt.Errorf("failed to load parent content: %w", err)
	}

	split, err := lockedSplit(tx, parentContentID)
	if err != nil {
		return nil, err
	}

	var accepted []models.SplitParticipant
	if split != nil {
		for _, p := range split.Participants {
			if p.Accepted {
				accepted = append(accepted, p)
			}
		}
	}
	if len(accepted) == 0 {
		ownerID := parent.OwnerID
		fallback := Approver{Key: ownerID.String(), AccountID: &ownerID}
		var owner models.User
		if err := tx.Select("id", "email").First(&owner, "id = ?", ownerID).Error; err == nil && owner.Email != "" {
			fallback.Emails = []string{models.NormalizeEmail(owner.Email)}
		}
		return []Approver{fallback}, nil
	}

	byKey := make(map[string]*Approver)
	var accountIDs []uuid.UUID
	for _, p := range accepted {
		if !p.HasAccount() {
			continue
		}
		key := p.RecipientKey()
		a, ok := byKey[key]
		if !ok {
			a = &Approver{Key: key, AccountID: p.AccountID}
			byKey[key] = a
			accountIDs = append(accountIDs, *p.AccountID)
		}
		a.WeightBps += p.Bps
		a.addEmail(p.Email)
	}

	if len(accountIDs) > 0 {
		var users []models.User
		if err := tx.Select("id", "email").Where("id IN ?", accountIDs).Find(&users).Error; err != nil {
			return nil, fmt.Errorf("failed to load approver accounts: %w", err)
		}
		for _, u := range users {
			byKey[u.ID.String()].addEmail(u.Email)
		}
	}

	owners := make(map[string]*Approver)
	for _, a := range byKey {
		for _, email := range a.Emails {
			if current, ok := owners[email]; !ok || a.Key < current.Key {
				owners[email] = a
			}
		}
	}

	for _, p := range accepted {
		if p.HasAccount() {
			continue
		}
		email := models.NormalizeEmail(p.Email)
		if a, ok := owners[email]; ok {
			a.WeightBps += p.Bps
			continue
		}
		key := p.RecipientKey()
		a, ok := byKey[key]
		if !ok {
			a = &Approver{Key: key}
			byKey[key] = a
		}
		a.WeightBps += p.Bps
		a.addEmail(email)
	}

	approvers := make([]Approver, 0, len(byKey))
	for _, a := range byKey {
		approvers = append(approvers, *a)
	}
	sort.Slice(approvers, func(i, j int) bool { return approvers[i].Key < approvers[j].Key })
	return approvers, nil
}

func (a *Approver) addEmail(email string) {
	if email = models.NormalizeEmail(email); email != "" && !containsString(a.Emails, email) {
		a.Emails = append(a.Emails, email)
	}
}

func containsString(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
