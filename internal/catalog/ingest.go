package catalog

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/gosimple/slug"
	"github.com/openctf/ctfcore/internal/database"
	"github.com/openctf/ctfcore/internal/database/models"
	"github.com/openctf/ctfcore/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manifest is the publish payload a shell server produces after a deploy
// run: the problems it hosts, their live instances, and bundle metadata.
type Manifest struct {
	SID      string            `json:"sid"`
	Problems []ManifestProblem `json:"problems"`
	Bundles  []ManifestBundle  `json:"bundles"`
}

type ManifestProblem struct {
	Name          string             `json:"name" binding:"required"`
	SanitizedName string             `json:"sanitized_name"`
	Category      string             `json:"category"`
	Author        string             `json:"author" binding:"required"`
	Organization  string             `json:"organization"`
	Event         string             `json:"event"`
	Score         int                `json:"score"`
	Description   string             `json:"description"`
	Hints         []string           `json:"hints"`
	Walkthrough   string             `json:"walkthrough"`
	Instances     []ManifestInstance `json:"instances"`
}

type ManifestInstance struct {
	InstanceNumber      int                    `json:"instance_number"`
	User                string                 `json:"user"`
	DeploymentDirectory string                 `json:"deployment_directory"`
	Service             string                 `json:"service"`
	Socket              string                 `json:"socket"`
	Server              string                 `json:"server"`
	Description         string                 `json:"description"`
	Hints               []string               `json:"hints"`
	Flag                string                 `json:"flag"`
	FlagSHA1            string                 `json:"flag_sha1"`
	ShouldSymlink       bool                   `json:"should_symlink"`
	Files               []string               `json:"files"`
	Port                int                    `json:"port"`
	InstanceDigest      string                 `json:"instance_digest"`
	PortInfo            map[string]interface{} `json:"port_info"`
}

type ManifestBundle struct {
	Name         string                             `json:"name" binding:"required"`
	Author       string                             `json:"author" binding:"required"`
	Description  string                             `json:"description"`
	Problems     []string                           `json:"problems"`
	Dependencies map[string]models.BundleDependency `json:"dependencies"`
}

// HashID derives the stable identifier for a named, authored object.
func HashID(name, author string) string {
	sum := sha1.Sum([]byte(name + author))
	return hex.EncodeToString(sum[:])
}

// InstanceID derives an instance id from its number, publishing server,
// and owning problem.
func InstanceID(instanceNumber int, sid, pid string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d%s%s", instanceNumber, sid, pid)))
	return hex.EncodeToString(sum[:])
}

// Ingest consumes a publish manifest. Problems and bundles are upserted
// by derived id; instances from shell servers other than the manifest's
// are retained untouched.
func Ingest(db *gorm.DB, manifest *Manifest) error {
	server, err := database.GetShellServerBySID(db, manifest.SID)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "unknown shell server %q", manifest.SID)
		}
		return err
	}

	for i := range manifest.Problems {
		if err := upsertProblem(db, server, &manifest.Problems[i]); err != nil {
			return err
		}
	}
	for i := range manifest.Bundles {
		if err := upsertBundle(db, &manifest.Bundles[i]); err != nil {
			return err
		}
	}

	zap.S().Infof("ingested %d problems and %d bundles from shell server %s",
		len(manifest.Problems), len(manifest.Bundles), server.Name)
	return nil
}

func upsertProblem(db *gorm.DB, server *models.ShellServer, mp *ManifestProblem) error {
	if mp.Name == "" || mp.Author == "" {
		return util.Wrap(util.ErrValidation, "problem name and author are required")
	}
	if mp.Score < 0 {
		return util.Wrap(util.ErrValidation, "problem %q has negative score", mp.Name)
	}

	pid := HashID(mp.Name, mp.Author)
	sanitized := mp.SanitizedName
	if sanitized == "" {
		sanitized = slug.Make(mp.Name)
	}

	incoming := make([]models.Instance, 0, len(mp.Instances))
	for _, mi := range mp.Instances {
		kind := models.KindService
		if mi.InstanceDigest != "" {
			kind = models.KindDocker
		} else if mi.Service == "" && mi.Port == 0 {
			kind = models.KindStatic
		}
		incoming = append(incoming, models.Instance{
			IID:                 InstanceID(mi.InstanceNumber, server.SID, pid),
			PID:                 pid,
			InstanceNumber:      mi.InstanceNumber,
			SID:                 server.SID,
			ServerNumber:        server.ServerNumber,
			Flag:                mi.Flag,
			FlagSHA1:            mi.FlagSHA1,
			Description:         mi.Description,
			Hints:               mi.Hints,
			Kind:                kind,
			User:                mi.User,
			DeploymentDirectory: mi.DeploymentDirectory,
			Service:             mi.Service,
			Socket:              mi.Socket,
			Server:              mi.Server,
			Port:                mi.Port,
			ShouldSymlink:       mi.ShouldSymlink,
			Files:               mi.Files,
			DockerDigest:        mi.InstanceDigest,
			PortMap:             mi.PortInfo,
		})
	}

	return db.Transaction(func(tx *gorm.DB) error {
		existing, err := database.GetProblemByPID(tx, pid)
		if err != nil && !database.IsRecordNotFound(err) {
			return err
		}

		// New problems start disabled until an admin reviews them.
		disabled := true
		if existing != nil {
			disabled = existing.Disabled
		}

		problem := models.Problem{
			PID:            pid,
			Name:           mp.Name,
			SanitizedName:  sanitized,
			Category:       mp.Category,
			Score:          mp.Score,
			Author:         mp.Author,
			Organization:   mp.Organization,
			Event:          mp.Event,
			Description:    mp.Description,
			Hints:          mp.Hints,
			Walkthrough:    mp.Walkthrough,
			HasWalkthrough: mp.Walkthrough != "",
			Disabled:       disabled,
		}
		if existing != nil {
			problem.CreatedAt = existing.CreatedAt
		}

		if err := tx.Omit("Instances").Save(&problem).Error; err != nil {
			return err
		}
		if err := database.ReplaceInstances(tx, pid, server.SID, incoming); err != nil {
			return err
		}

		// A problem left with no instances anywhere cannot be played.
		var remaining int64
		if err := tx.Model(&models.Instance{}).Where("pid = ?", pid).Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			return tx.Model(&models.Problem{}).Where("pid = ?", pid).Update("disabled", true).Error
		}
		return nil
	})
}

func upsertBundle(db *gorm.DB, mb *ManifestBundle) error {
	if mb.Name == "" || mb.Author == "" {
		return util.Wrap(util.ErrValidation, "bundle name and author are required")
	}

	bid := HashID(mb.Name, mb.Author)
	return db.Transaction(func(tx *gorm.DB) error {
		existing, err := database.GetBundleByBID(tx, bid)
		if err != nil && !database.IsRecordNotFound(err) {
			return err
		}

		// dependencies_enabled is an admin decision; re-ingest preserves it.
		enabled := false
		if existing != nil {
			enabled = existing.DependenciesEnabled
		}

		bundle := models.Bundle{
			BID:                 bid,
			Name:                mb.Name,
			Author:              mb.Author,
			Description:         mb.Description,
			Problems:            mb.Problems,
			Dependencies:        mb.Dependencies,
			DependenciesEnabled: enabled,
		}
		if existing != nil {
			bundle.CreatedAt = existing.CreatedAt
		}
		return database.SaveBundle(tx, &bundle)
	})
}

// SetBundleDependenciesEnabled toggles the unlock graph for a bundle.
func SetBundleDependenciesEnabled(db *gorm.DB, bid string, enabled bool) error {
	bundle, err := database.GetBundleByBID(db, bid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "unknown bundle %q", bid)
		}
		return err
	}
	bundle.DependenciesEnabled = enabled
	return database.SaveBundle(db, bundle)
}

// SetProblemDisabled flips a problem's visibility to players.
func SetProblemDisabled(db *gorm.DB, pid string, disabled bool) error {
	problem, err := database.GetProblemByPID(db, pid)
	if err != nil {
		if database.IsRecordNotFound(err) {
			return util.Wrap(util.ErrNotFound, "unknown problem %q", pid)
		}
		return err
	}
	if !disabled && len(problem.Instances) == 0 {
		return util.Wrap(util.ErrState, "cannot enable a problem with no instances")
	}
	problem.Disabled = disabled
	return db.Model(&models.Problem{}).Where("pid = ?", pid).Update("disabled", disabled).Error
}
