package membership

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/openctf/ctfcore/internal/auth"
	"github.com/openctf/ctfcore/internal/cache"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9]{3,32}$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	countryPattern  = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Registration is the full demographics object from POST /users.
type Registration struct {
	Username    string          `json:"username" binding:"required"`
	Password    string          `json:"password" binding:"required"`
	Email       string          `json:"email" binding:"required"`
	Firstname   string          `json:"firstname"`
	Lastname    string          `json:"lastname"`
	Country     string          `json:"country" binding:"required"`
	Affiliation string          `json:"affiliation"`
	Usertype    models.Usertype `json:"usertype" binding:"required"`
	AgeBand     string          `json:"demo_age"`
	ParentEmail string          `json:"parent_email"`
	GID         string          `json:"gid"`
}

func (r *Registration) validate() error {
	if !usernamePattern.MatchString(r.Username) {
		return util.Wrap(util.ErrValidation, "usernames must be 3-32 alphanumeric characters")
	}
	if !emailPattern.MatchString(r.Email) {
		return util.Wrap(util.ErrValidation, "invalid email address")
	}
	if !countryPattern.MatchString(r.Country) {
		return util.Wrap(util.ErrValidation, "country must be a 2-letter code")
	}
	switch r.Usertype {
	case models.UsertypeStudent, models.UsertypeTeacher, models.UsertypeCollege, models.UsertypeOther:
	default:
		return util.Wrap(util.ErrValidation, "unknown usertype")
	}
	switch r.AgeBand {
	case "", "13-17", "18+":
	default:
		return util.Wrap(util.ErrValidation, "impossible age band")
	}
	if r.AgeBand == "13-17" && !emailPattern.MatchString(r.ParentEmail) {
		return util.Wrap(util.ErrValidation, "a parent email is required for minors")
	}
	return nil
}

// RegisterUser creates a user together with its self team. Verification
// is immediate when email verification is off; otherwise a single-use
// token is issued for the verify route.
func RegisterUser(ctx context.Context, db *gorm.DB, store cache.Store, s *models.Settings, reg Registration) (*models.User, error) {
	if err := reg.validate(); err != nil {
		return nil, err
	}

	taken, err := database.UsernameOrTeamNameExists(db, reg.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, util.Wrap(util.ErrConflict, "that username is already taken")
	}

	hash, err := auth.HashPassword(reg.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		UID:                  uuid.NewString(),
		Username:             reg.Username,
		PasswordHash:         hash,
		Email:                reg.Email,
		Firstname:            reg.Firstname,
		Lastname:             reg.Lastname,
		Country:              reg.Country,
		Affiliation:          reg.Affiliation,
		Usertype:             reg.Usertype,
		AgeBand:              reg.AgeBand,
		ParentEmail:          reg.ParentEmail,
		Teacher:              reg.Usertype == models.UsertypeTeacher,
		Verified:             !s.EmailVerification,
		Extdata:              models.JSONMap{},
		CompletedMinigames:   models.StringList{},
		UnlockedWalkthroughs: models.StringList{},
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := database.CreateUser(tx, &user); err != nil {
			return err
		}
		team, err := CreateSelfTeam(tx, &user)
		if err != nil {
			return err
		}
		user.TID = team.TID
		return database.UpdateUser(tx, &user)
	})
	if err != nil {
		return nil, err
	}

	if s.EmailVerification {
		if _, err := IssueToken(db, user.UID, models.TokenSlotEmailVerification); err != nil {
			zap.S().Errorf("verification token for %s failed: %v", user.Username, err)
		}
	}

	if reg.GID != "" {
		if err := JoinGroup(ctx, db, store, reg.GID, user.TID); err != nil {
			zap.S().Warnf("registration classroom join for %s failed: %v", user.Username, err)
		}
	}

	zap.S().Infof("registered user %s (%s)", user.Username, user.Usertype)
	return &user, nil
}

// IssueToken replaces any live token in the slot with a fresh one.
// Delivery is the mail collaborator's job; the core only records it.
func IssueToken(db *gorm.DB, uid, slot string) (*models.Token, error) {
	value, err := auth.NewRandomValue()
	if err != nil {
		return nil, err
	}
	token := models.Token{
		ID:       uuid.NewString(),
		UID:      uid,
		Slot:     slot,
		Value:    value,
		Metadata: models.JSONMap{},
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := database.DeleteTokensForUser(tx, uid, slot); err != nil {
			return err
		}
		return database.CreateToken(tx, &token)
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// VerifyEmail consumes a verification token and marks the user verified.
func VerifyEmail(db *gorm.DB, uid, value string) error {
	token, err := database.GetTokenByValue(db, models.TokenSlotEmailVerification, value)
	if err != nil || token.UID != uid {
		return util.Wrap(util.ErrNotFound, "invalid verification token")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := database.ConsumeToken(tx, token.ID); err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("uid = ?", uid).Update("verified", true).Error
	})
}

// RequestPasswordReset issues a reset token for the account behind an
// email address. Callers respond identically whether or not the account
// exists.
func RequestPasswordReset(db *gorm.DB, email string) (*models.Token, error) {
	user, err := database.GetUserByEmail(db, email)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return IssueToken(db, user.UID, models.TokenSlotPasswordReset)
}

// ResetPassword consumes a reset token and installs the new password.
func ResetPassword(db *gorm.DB, value, newPassword string) error {
	if len(newPassword) < 8 {
		return util.Wrap(util.ErrValidation, "passwords must be at least 8 characters")
	}
	token, err := database.GetTokenByValue(db, models.TokenSlotPasswordReset, value)
	if err != nil {
		return util.Wrap(util.ErrNotFound, "unknown reset token")
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := database.ConsumeToken(tx, token.ID); err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("uid = ?", token.UID).Update("password_hash", hash).Error
	})
}

// BatchResult reports one row of a classroom CSV import.
type BatchResult struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BatchRegister imports students from CSV columns
// username,email,firstname,lastname and admits each self team to the
// classroom. Row failures are reported, not fatal.
func BatchRegister(ctx context.Context, db *gorm.DB, store cache.Store, s *models.Settings, gid string, r io.Reader) ([]BatchResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, util.Wrap(util.ErrValidation, "malformed CSV: %v", err)
	}
	if len(records) > 1000 {
		return nil, util.Wrap(util.ErrValidation, "batch registration is limited to 1000 rows")
	}

	results := make([]BatchResult, 0, len(records))
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && strings.EqualFold(rec[0], "username") {
			continue // header row
		}
		if len(rec) < 2 {
			results = append(results, BatchResult{Error: fmt.Sprintf("row %d: too few columns", i+1)})
			continue
		}
		password, err := auth.NewRandomValue()
		if err != nil {
			return nil, err
		}
		password = password[:12]

		reg := Registration{
			Username: strings.TrimSpace(rec[0]),
			Password: password,
			Email:    strings.TrimSpace(rec[1]),
			Country:  "US",
			Usertype: models.UsertypeStudent,
			AgeBand:  "18+",
			GID:      gid,
		}
		if len(rec) > 2 {
			reg.Firstname = strings.TrimSpace(rec[2])
		}
		if len(rec) > 3 {
			reg.Lastname = strings.TrimSpace(rec[3])
		}

		if _, err := RegisterUser(ctx, db, store, s, reg); err != nil {
			results = append(results, BatchResult{Username: reg.Username, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{Username: reg.Username, Password: password})
	}
	return results, nil
}
