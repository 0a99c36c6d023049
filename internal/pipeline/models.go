package pipeline

import (
	"github.com/cochaviz/tcbuild/internal/archive"
	"github.com/cochaviz/tcbuild/internal/artifacts"
	"github.com/cochaviz/tcbuild/internal/descriptor"
	"github.com/cochaviz/tcbuild/internal/validate"
)

// Step names, as shown in log output and metrics.
const (
	StepDescriptor = "descriptor"
	StepAssemble   = "serverPlugin"
	StepValidate   = "validateServerPlugin"
	StepSign       = "signServerPlugin"
	StepPublish    = "publishServerPlugin"
)

// Result reports what a pipeline run produced.
type Result struct {
	BuildID    string
	Descriptor descriptor.Outcome
	Archive    archive.Result

	Report    validate.Report
	Validated bool

	// Signed is the signed archive, empty when signing is not configured.
	Signed    string
	Published bool

	Artifacts []artifacts.Artifact
}

// Skipped reports whether there was nothing to package.
func (r Result) Skipped() bool {
	return r.Archive.Skipped
}

// Distributable is the archive handed to publishing and deployment.
func (r Result) Distributable() string {
	if r.Signed != "" {
		return r.Signed
	}
	return r.Archive.Path
}
