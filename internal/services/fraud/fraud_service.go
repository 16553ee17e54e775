package fraud

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/services/notify"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Score weights per signal and the level cutoffs. A user tripping the IP
// signal plus any other lands at HIGH.
const (
	scoreSharedIP      = 30
	scoreBidVelocity   = 20
	scoreLowballing    = 25
	scoreYoungAccount  = 15
	mediumRiskCutoff   = 30
	highRiskCutoff     = 50
	sharedIPThreshold  = 2
	bidsPerDayLimit    = 10
	lowBidCountLimit   = 5
	youngAccountWindow = 7 * 24 * time.Hour

	// A fresh account only trips the young-account signal at activity well
	// beyond the plain velocity limit.
	youngAccountBidLimit   = 15
	youngAccountLoginLimit = 20

	// More identical bids than this on one job reads as coordination.
	identicalBidLimit = 2
)

// lowBidCeiling is the price under which a bid counts as suspiciously cheap.
var lowBidCeiling = decimal.NewFromInt(10)

// Analysis is the outcome of scoring one user.
type Analysis struct {
	UserID    uuid.UUID `json:"user_id"`
	Score     int       `json:"score"`
	RiskLevel RiskLevel `json:"risk_level"`
	Signals   []string  `json:"signals"`
	Flagged   bool      `json:"flagged"`
}

// Service scores accounts with cheap DB-count heuristics. Scoring is advisory:
// a HIGH score flags the account for admin review, it never blocks operations
// on its own.
type Service struct {
	DB     *gorm.DB
	Notify notify.Publisher
}

func NewService(db *gorm.DB, pub notify.Publisher) *Service {
	return &Service{DB: db, Notify: pub}
}

// AnalyzeUser runs all heuristics against one account and flags it when the
// combined score reaches HIGH. Flagging is idempotent: an already flagged
// account keeps its original reason.
func (s *Service) AnalyzeUser(ctx context.Context, userID uuid.UUID) (*Analysis, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	analysis := &Analysis{UserID: userID, RiskLevel: RiskLow}

	if user.LastLoginIP != "" {
		var sharers int64
		if err := s.DB.WithContext(ctx).Model(&models.User{}).
			Where("last_login_ip = ? AND id <> ?", user.LastLoginIP, userID).
			Count(&sharers).Error; err != nil {
			return nil, err
		}
		if sharers > sharedIPThreshold {
			analysis.Score += scoreSharedIP
			analysis.Signals = append(analysis.Signals, fmt.Sprintf("login IP shared with %d other accounts", sharers))
		}
	}

	var recentBids int64
	if err := s.DB.WithContext(ctx).Model(&models.Bid{}).
		Where("freelancer_id = ? AND created_at > ?", userID, time.Now().Add(-24*time.Hour)).
		Count(&recentBids).Error; err != nil {
		return nil, err
	}
	if recentBids > bidsPerDayLimit {
		analysis.Score += scoreBidVelocity
		analysis.Signals = append(analysis.Signals, fmt.Sprintf("%d bids in the last 24 hours", recentBids))
	}

	var lowBids int64
	if err := s.DB.WithContext(ctx).Model(&models.Bid{}).
		Where("freelancer_id = ? AND price < ?", userID, lowBidCeiling).
		Count(&lowBids).Error; err != nil {
		return nil, err
	}
	if lowBids > lowBidCountLimit {
		analysis.Score += scoreLowballing
		analysis.Signals = append(analysis.Signals, fmt.Sprintf("%d bids under %s", lowBids, lowBidCeiling.StringFixed(0)))
	}

	if time.Since(user.CreatedAt) < youngAccountWindow && (recentBids > youngAccountBidLimit || user.LoginCount > youngAccountLoginLimit) {
		analysis.Score += scoreYoungAccount
		analysis.Signals = append(analysis.Signals, "new account with unusually high activity")
	}

	switch {
	case analysis.Score >= highRiskCutoff:
		analysis.RiskLevel = RiskHigh
	case analysis.Score >= mediumRiskCutoff:
		analysis.RiskLevel = RiskMedium
	}

	if analysis.RiskLevel == RiskHigh && !user.IsFlagged {
		reason := fmt.Sprintf("auto-flagged at score %d: %s", analysis.Score, strings.Join(analysis.Signals, "; "))
		if err := s.flagUser(ctx, userID, reason); err != nil {
			return nil, err
		}
		analysis.Flagged = true
		s.alertAdmins(ctx, user, analysis)
	} else {
		analysis.Flagged = user.IsFlagged
	}
	return analysis, nil
}

// BidPatternAnalysis is the outcome of scanning one job's bids for
// coordinated behavior.
type BidPatternAnalysis struct {
	JobID          uuid.UUID   `json:"job_id"`
	SuspiciousBids []uuid.UUID `json:"suspicious_bids"`
	Patterns       []string    `json:"patterns"`
}

// DetectBidManipulation runs right after a bid lands: the bidder is
// re-scored and the job's bids are scanned for coordinated groups. Errors
// are logged and swallowed so bid placement never fails on scoring.
func (s *Service) DetectBidManipulation(ctx context.Context, jobID, freelancerID uuid.UUID) {
	if _, err := s.AnalyzeUser(ctx, freelancerID); err != nil {
		log.Printf("fraud: bid analysis for %s failed: %v", freelancerID, err)
	}
	analysis, err := s.AnalyzeBidPatterns(ctx, jobID)
	if err != nil {
		log.Printf("fraud: bid pattern scan for job %s failed: %v", jobID, err)
		return
	}
	if len(analysis.SuspiciousBids) > 0 {
		s.alertBidPatterns(ctx, analysis)
	}
}

// AnalyzeBidPatterns groups a job's bids by identical price and delivery
// estimate. Every bid in a group larger than identicalBidLimit is marked
// suspicious. The scan is advisory and flags nobody on its own.
func (s *Service) AnalyzeBidPatterns(ctx context.Context, jobID uuid.UUID) (*BidPatternAnalysis, error) {
	var bids []models.Bid
	if err := s.DB.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&bids).Error; err != nil {
		return nil, err
	}

	groups := make(map[string][]models.Bid)
	for _, b := range bids {
		key := fmt.Sprintf("%s_%d", b.Price.String(), b.EstimatedTime.Value)
		groups[key] = append(groups[key], b)
	}

	analysis := &BidPatternAnalysis{JobID: jobID}
	for pattern, group := range groups {
		if len(group) <= identicalBidLimit {
			continue
		}
		analysis.Patterns = append(analysis.Patterns, fmt.Sprintf("multiple identical bids: %s", pattern))
		for _, b := range group {
			analysis.SuspiciousBids = append(analysis.SuspiciousBids, b.ID)
		}
	}
	return analysis, nil
}

func (s *Service) alertBidPatterns(ctx context.Context, analysis *BidPatternAnalysis) {
	if s.Notify == nil {
		return
	}
	var admins []models.User
	if err := s.DB.WithContext(ctx).Where("role = ?", models.RoleAdmin).Find(&admins).Error; err != nil {
		log.Printf("fraud: admin lookup failed: %v", err)
		return
	}
	for _, admin := range admins {
		s.Notify.Publish(ctx, notify.Event{
			Type:    models.NotifAdminAlert,
			UserID:  admin.ID,
			Title:   "Suspicious Bidding Pattern",
			Message: fmt.Sprintf("Job %s has %d bids matching a coordinated pattern.", analysis.JobID, len(analysis.SuspiciousBids)),
			Data:    map[string]interface{}{"job_id": analysis.JobID, "patterns": analysis.Patterns},
		})
	}
}

// TriggerManualReview flags an account on an admin's word, bypassing scoring.
func (s *Service) TriggerManualReview(ctx context.Context, userID uuid.UUID, reason string) error {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return err
	}
	return s.flagUser(ctx, userID, "manual review: "+reason)
}

func (s *Service) flagUser(ctx context.Context, userID uuid.UUID, reason string) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND is_flagged = ?", userID, false).
		Updates(map[string]interface{}{
			"is_flagged":  true,
			"flag_reason": reason,
		}).Error
}

func (s *Service) alertAdmins(ctx context.Context, user models.User, analysis *Analysis) {
	if s.Notify == nil {
		return
	}
	var admins []models.User
	if err := s.DB.WithContext(ctx).Where("role = ?", models.RoleAdmin).Find(&admins).Error; err != nil {
		log.Printf("fraud: admin lookup failed: %v", err)
		return
	}
	for _, admin := range admins {
		s.Notify.Publish(ctx, notify.Event{
			Type:    models.NotifAdminAlert,
			UserID:  admin.ID,
			Title:   "High Risk Account",
			Message: fmt.Sprintf("Account %s scored %d (%s).", user.Email, analysis.Score, analysis.RiskLevel),
			Data:    map[string]interface{}{"user_id": user.ID, "signals": analysis.Signals},
		})
	}
}

// FlaggedUsers lists accounts awaiting admin review, newest first.
func (s *Service) FlaggedUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.DB.WithContext(ctx).
		Where("is_flagged = ?", true).
		Order("updated_at DESC").
		Find(&users).Error
	return users, err
}
