package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONMap is a helper type for storing JSON data in the database.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	return scanJSON(value, &m)
}

// StringList is a JSON-serialized list column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, &l)
}

// Contains reports whether v is present in the list.
func (l StringList) Contains(v string) bool {
	for _, e := range l {
		if e == v {
			return true
		}
	}
	return false
}

// StringMap is a JSON-serialized string-to-string column, used for the
// per-team problem -> instance binding map.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		m = StringMap{}
	}
	return json.Marshal(m)
}

func (m *StringMap) Scan(value interface{}) error {
	return scanJSON(value, &m)
}

// IntMap is a JSON-serialized string-to-int column.
type IntMap map[string]int

func (m IntMap) Value() (driver.Value, error) {
	if m == nil {
		m = IntMap{}
	}
	return json.Marshal(m)
}

func (m *IntMap) Scan(value interface{}) error {
	return scanJSON(value, &m)
}

// BundleDependency describes the weighted unlock requirement for one problem.
type BundleDependency struct {
	Threshold int            `json:"threshold"`
	Weightmap map[string]int `json:"weightmap"`
}

// DependencyMap maps a dependent sanitized name to its requirement.
type DependencyMap map[string]BundleDependency

func (m DependencyMap) Value() (driver.Value, error) {
	if m == nil {
		m = DependencyMap{}
	}
	return json.Marshal(m)
}

func (m *DependencyMap) Scan(value interface{}) error {
	return scanJSON(value, &m)
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	case nil:
		return nil
	default:
		return errors.New("unsupported column type for JSON scan")
	}
}

type Usertype string

const (
	UsertypeStudent Usertype = "student"
	UsertypeTeacher Usertype = "teacher"
	UsertypeCollege Usertype = "college"
	UsertypeOther   Usertype = "other"
)

// Short id fields carry explicit column names: gorm's default naming
// splits TID into t_id, while every query in the repository layer (and
// the wire format) uses the bare tid/pid/uid spelling.

type User struct {
	UID       string `gorm:"column:uid;primaryKey" json:"uid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string   `gorm:"uniqueIndex" json:"username"`
	PasswordHash string   `json:"-"`
	Email        string   `gorm:"index" json:"email"`
	Firstname    string   `json:"firstname"`
	Lastname     string   `json:"lastname"`
	Country      string   `json:"country"`
	Affiliation  string   `json:"affiliation"`
	Usertype     Usertype `json:"usertype"`
	AgeBand      string   `json:"demo_age"` // "13-17" or "18+"
	ParentEmail  string   `json:"-"`

	Admin    bool `json:"admin"`
	Teacher  bool `json:"teacher"`
	Disabled bool `json:"disabled"`
	Verified bool `json:"verified"`

	TID     string  `gorm:"column:tid;index" json:"tid"`
	Extdata JSONMap `gorm:"type:text" json:"extdata"`

	Tokens               int        `json:"tokens"`
	CompletedMinigames   StringList `gorm:"type:text" json:"-"`
	UnlockedWalkthroughs StringList `gorm:"type:text" json:"-"`
}

type Team struct {
	TID       string `gorm:"column:tid;primaryKey" json:"tid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	TeamName     string `gorm:"uniqueIndex" json:"team_name"`
	PasswordHash string `json:"-"`
	Affiliation  string `json:"affiliation"`
	Country      string `json:"country"`

	// Size counts non-disabled members.
	Size       int    `json:"size"`
	SelfTeam   bool   `json:"self_team"`
	CreatorUID string `gorm:"column:creator_uid" json:"-"`

	// ServerNumber selects the shell-server shard this team is bound to.
	ServerNumber int `json:"server_number"`

	// Instances maps pid -> iid for this team's assigned instances.
	Instances StringMap `gorm:"type:text" json:"-"`

	// Eligibilities is the set of scoreboard ids every current member
	// individually qualifies for.
	Eligibilities StringList `gorm:"type:text" json:"eligibilities"`
}

type Group struct {
	GID       string `gorm:"column:gid;primaryKey" json:"gid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name  string `gorm:"uniqueIndex:idx_group_name_owner" json:"name"`
	Owner string `gorm:"uniqueIndex:idx_group_name_owner" json:"owner"` // owning tid

	Teachers StringList `gorm:"type:text" json:"teachers"`
	Members  StringList `gorm:"type:text" json:"members"`

	// EmailFilter is a domain whitelist; empty means open admission.
	EmailFilter StringList `gorm:"type:text" json:"email_filter"`
	Hidden      bool       `json:"hidden"`
}

type Scoreboard struct {
	SID       string `gorm:"column:sid;primaryKey" json:"sid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name string `gorm:"uniqueIndex" json:"name"`

	// EligibilityConditions is an attribute predicate over User; a team
	// appears on this scoreboard iff every member satisfies it.
	EligibilityConditions JSONMap `gorm:"type:text" json:"eligibility_conditions"`

	Priority int    `json:"priority"`
	Sponsor  string `json:"sponsor"`
	Logo     string `json:"logo"`
}

// InstanceKind tags how an instance is backed on the shell server.
type InstanceKind string

const (
	KindService InstanceKind = "service"
	KindDocker  InstanceKind = "docker"
	KindStatic  InstanceKind = "static"
)

type Problem struct {
	PID       string `gorm:"column:pid;primaryKey" json:"pid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name          string `gorm:"index" json:"name"`
	SanitizedName string `gorm:"index" json:"sanitized_name"`
	Category      string `gorm:"index" json:"category"`
	Score         int    `json:"score"`
	Author        string `json:"author"`
	Organization  string `json:"organization"`
	Event         string `json:"event"`

	Description string     `json:"description"`
	Hints       StringList `gorm:"type:text" json:"hints"`
	Walkthrough string     `json:"-"`

	Disabled       bool `json:"disabled"`
	HasWalkthrough bool `json:"has_walkthrough"`

	Instances []Instance `gorm:"foreignKey:PID;constraint:OnDelete:CASCADE" json:"instances"`
}

type Instance struct {
	IID       string `gorm:"column:iid;primaryKey" json:"iid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	PID            string `gorm:"column:pid;index" json:"pid"`
	InstanceNumber int    `json:"instance_number"`

	// SID is the shell server that published this instance.
	SID          string `gorm:"column:sid;index" json:"sid"`
	ServerNumber int    `json:"server_number"`

	Flag     string `gorm:"uniqueIndex" json:"-"`
	FlagSHA1 string `json:"-"`

	Description string     `json:"description"`
	Hints       StringList `gorm:"type:text" json:"hints"`

	Kind                InstanceKind `json:"kind"`
	User                string       `json:"user"`
	DeploymentDirectory string       `json:"deployment_directory"`
	Service             string       `json:"service"`
	Socket              string       `json:"socket"`
	Server              string       `json:"server"`
	Port                int          `json:"port"`
	ShouldSymlink       bool         `json:"-"`
	Files               StringList   `gorm:"type:text" json:"files"`

	// Container-backed instances only.
	DockerDigest string  `json:"instance_digest,omitempty"`
	PortMap      JSONMap `gorm:"type:text" json:"port_info,omitempty"`
}

type Bundle struct {
	BID       string `gorm:"column:bid;primaryKey" json:"bid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name        string     `json:"name"`
	Author      string     `json:"author"`
	Description string     `json:"description"`
	Problems    StringList `gorm:"type:text" json:"problems"` // sanitized names

	DependenciesEnabled bool          `json:"dependencies_enabled"`
	Dependencies        DependencyMap `gorm:"type:text" json:"dependencies"`
}

type Protocol string

const (
	ProtocolHTTP  Protocol = "HTTP"
	ProtocolHTTPS Protocol = "HTTPS"
)

type ShellServer struct {
	SID       string `gorm:"column:sid;primaryKey" json:"sid"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"-"`
	KeyPath  string   `json:"-"`
	Protocol Protocol `json:"protocol"`

	ServerNumber int `gorm:"uniqueIndex" json:"server_number"`
}

type Submission struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"timestamp"`

	UID string `gorm:"column:uid;index:idx_sub_uid_correct;index:idx_sub_pid_uid_correct" json:"uid"`
	TID string `gorm:"column:tid;index:idx_sub_tid_correct;index:idx_sub_pid_tid_correct" json:"tid"`
	PID string `gorm:"column:pid;index:idx_sub_pid_correct;index:idx_sub_pid_uid_correct;index:idx_sub_pid_tid_correct" json:"pid"`

	Key      string `json:"-"`
	Method   string `json:"method"`
	IP       string `json:"-"`
	Category string `json:"category"`

	Correct bool `gorm:"index:idx_sub_uid_correct;index:idx_sub_tid_correct;index:idx_sub_pid_correct;index:idx_sub_pid_uid_correct;index:idx_sub_pid_tid_correct" json:"correct"`
}

// Token slots.
const (
	TokenSlotEmailVerification = "email_verification"
	TokenSlotPasswordReset     = "password_reset"
	TokenSlotRegistration      = "registration_token"
)

type Token struct {
	ID        string `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time

	UID  string `gorm:"column:uid;index" json:"uid"`
	GID  string `gorm:"column:gid;index" json:"gid"`
	Slot string `gorm:"index" json:"slot"`

	Value    string  `gorm:"uniqueIndex" json:"-"`
	Metadata JSONMap `gorm:"type:text" json:"metadata"`
	Used     bool    `json:"used"`
}

// ShardConfig controls shell-server sharding of new teams.
type ShardConfig struct {
	Enable          bool  `json:"enable"`
	DefaultStepping int   `json:"default_stepping"`
	Steps           []int `json:"steps"`
	LimitAddedRange bool  `json:"limit_added_range"`
}

func (s ShardConfig) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *ShardConfig) Scan(value interface{}) error {
	return scanJSON(value, &s)
}

// PortRange is an inclusive banned port interval.
type PortRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type PortRangeList []PortRange

func (l PortRangeList) Value() (driver.Value, error) {
	if l == nil {
		l = PortRangeList{}
	}
	return json.Marshal(l)
}

func (l *PortRangeList) Scan(value interface{}) error {
	return scanJSON(value, &l)
}

// Settings is the single-row runtime configuration record. Consumers
// re-read it on every request through the settings package.
type Settings struct {
	ID        uint `gorm:"primaryKey"`
	UpdatedAt time.Time

	CompetitionName string    `json:"competition_name"`
	CompetitionURL  string    `json:"competition_url"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`

	MaxTeamSize    int  `json:"max_team_size"`
	GroupLimit     int  `json:"group_limit"`
	EnableFeedback bool `json:"enable_feedback"`

	EmailVerification bool       `json:"email_verification"`
	EmailFrom         string     `json:"email_from"`
	AdminEmails       StringList `gorm:"type:text" json:"admin_emails"`

	EnableCaptcha    bool   `json:"enable_captcha"`
	CaptchaURL       string `json:"captcha_url"`
	EnableRateLimits bool   `json:"enable_rate_limits"`

	Shard       ShardConfig   `gorm:"type:text" json:"shell_sharding"`
	BannedPorts PortRangeList `gorm:"type:text" json:"banned_ports"`

	// Global eligibility predicate applied on registration.
	EligibilityConditions JSONMap `gorm:"type:text" json:"eligibility"`

	// Secrets are settable here because the settings surface is
	// admin-only; they never appear on a player-facing response.
	MinigameSecret      string `json:"minigame_secret"`
	MinigameTokenValues IntMap `gorm:"type:text" json:"minigame_token_values"`

	DebugMode bool   `json:"debug_mode"`
	DebugKey  string `json:"debug_key"`
}

// Exception is a captured internal error, listable and dismissable by admins.
type Exception struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"timestamp"`

	Route     string `json:"route"`
	UID       string `gorm:"column:uid" json:"uid"`
	TID       string `gorm:"column:tid" json:"tid"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`

	Message string `json:"message"`
	Trace   string `json:"trace"`
	Visible bool   `gorm:"index" json:"visible"`
}

type Achievement struct {
	AID       string `gorm:"column:aid;primaryKey" json:"aid"`
	CreatedAt time.Time

	Name        string `json:"name"`
	Description string `json:"description"`
	Score       int    `json:"score"`

	// ProcessorKey names the registered handler evaluated on each hook.
	ProcessorKey string `json:"processor_key"`

	// Multiple allows the achievement to be earned more than once.
	Multiple bool `json:"multiple"`
	Hidden   bool `json:"hidden"`
	Disabled bool `json:"disabled"`
}

type EarnedAchievement struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"timestamp"`

	AID string `gorm:"column:aid;index" json:"aid"`
	UID string `gorm:"column:uid;index" json:"uid"`
	TID string `gorm:"column:tid;index" json:"tid"`

	Data JSONMap `gorm:"type:text" json:"data"`
}
