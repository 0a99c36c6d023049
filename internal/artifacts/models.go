package artifacts

import "time"

type ArtifactKind string

const (
	DescriptorArtifact    ArtifactKind = "descriptor"     // Generated or processed teamcity-plugin.xml
	ArchiveArtifact       ArtifactKind = "archive"        // Assembled plugin archive
	SignedArchiveArtifact ArtifactKind = "signed-archive" // Archive produced by the signing tool
	ReportArtifact        ArtifactKind = "report"         // Validation report
)

type Artifact struct {
	ID   string       `json:"id"`
	Kind ArtifactKind `json:"kind"`
	Path string       `json:"path"`

	SHA256      string         `json:"sha256"`
	Size        int64          `json:"size"`
	ContentType string         `json:"contentType"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// BuildStatus captures the outcome of a recorded build.
type BuildStatus string

const (
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusSkipped   BuildStatus = "skipped"
)

// BuildRecord is one entry of the build manifest.
type BuildRecord struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	Status     BuildStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	Artifacts  []Artifact  `json:"artifacts"`
}
