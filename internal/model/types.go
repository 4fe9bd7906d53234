package model

import "time"

// RepoStatus is a Repository's lifecycle state. Persisted as its lowercase
// name; an unknown string read back from storage maps to Error (and is
// logged), never crashes the reader.
type RepoStatus string

const (
	StatusPending  RepoStatus = "pending"
	StatusActive   RepoStatus = "active"
	StatusArchived RepoStatus = "archived"
	StatusDeleted  RepoStatus = "deleted"
	StatusError    RepoStatus = "error"
)

// ParseRepoStatus maps a persisted lowercase name back to a RepoStatus.
// Unknown values fall back to Error rather than failing the caller.
func ParseRepoStatus(s string) RepoStatus {
	switch RepoStatus(s) {
	case StatusPending, StatusActive, StatusArchived, StatusDeleted, StatusError:
		return RepoStatus(s)
	default:
		return StatusError
	}
}

// Repository is the durable record for one tracked remote repository.
type Repository struct {
	ID            int64
	Owner         string
	Name          string
	URL           string
	Status        RepoStatus
	Description   string
	Private       bool
	LocalPath     string
	LastClonedAt  *time.Time
	LastUpdatedAt *time.Time
	LastCheckedAt *time.Time
	LastError     string
	CreatedAt     time.Time
}

// Archive is an immutable record of one snapshot produced for a Repository.
type Archive struct {
	ID            int64
	RepoID        int64
	Filename      string
	Path          string
	SizeBytes     int64
	FileCount     int
	IsIncremental bool
	CreatedAt     time.Time
}

// FileHashEntry is one (relative_path -> content_hash) pair in a
// Repository's manifest, used to drive incremental change detection.
type FileHashEntry struct {
	RepoID       int64
	RelativePath string
	ContentHash  string
	LastSeenAt   time.Time
}

// Settings is the closed set of configurable application settings backed
// by the catalog's settings table.
type Settings struct {
	DataDir                  string
	ArchiveFormat            string
	MaxConcurrentTasks       int
	AutoCheckIntervalMinutes int
}

// AllowedSettingKeys is the closed allowlist settings writes are checked
// against; any other key is rejected.
var AllowedSettingKeys = map[string]bool{
	"data_dir":                    true,
	"archive_format":              true,
	"max_concurrent_tasks":        true,
	"auto_check_interval_minutes": true,
}

// TaskStage identifies which phase of a pipeline a progress event reports.
type TaskStage string

const (
	StageCloning        TaskStage = "cloning"
	StagePulling        TaskStage = "pulling"
	StageArchiving      TaskStage = "archiving"
	StageCompressing    TaskStage = "compressing"
	StageCheckingStatus TaskStage = "checking_status"
)

// TaskProgress is one progress event emitted at a pipeline stage boundary.
type TaskProgress struct {
	RepoURL  string    `json:"repo_url"`
	Stage    TaskStage `json:"stage"`
	Progress *float64  `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
}

func floatPtr(f float64) *float64 { return &f }

// Progress is a small constructor helper mirroring the literal struct
// construction the original pipeline uses at every stage boundary.
func Progress(repoURL string, stage TaskStage, fraction float64, message string) TaskProgress {
	return TaskProgress{RepoURL: repoURL, Stage: stage, Progress: floatPtr(fraction), Message: message}
}
