package descriptor

// ServerDescriptor is the structured form of a server plugin descriptor.
type ServerDescriptor struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"displayName"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	DownloadURL string `yaml:"downloadUrl,omitempty"`
	Email       string `yaml:"email,omitempty"`

	VendorName string `yaml:"vendorName,omitempty"`
	VendorURL  string `yaml:"vendorUrl,omitempty"`
	VendorLogo string `yaml:"vendorLogo,omitempty"`

	MinimumBuild string `yaml:"minimumBuild,omitempty"`
	MaximumBuild string `yaml:"maximumBuild,omitempty"`

	UseSeparateClassloader    *bool `yaml:"useSeparateClassloader,omitempty"`
	AllowRuntimeReload        *bool `yaml:"allowRuntimeReload,omitempty"`
	NodeResponsibilitiesAware *bool `yaml:"nodeResponsibilitiesAware,omitempty"`

	Parameters   []Parameter  `yaml:"parameters,omitempty"`
	Dependencies Dependencies `yaml:"dependencies,omitempty"`
}

// Parameter is a name/value pair exposed to the plugin at runtime.
type Parameter struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Dependencies lists the plugins and tools a plugin requires.
type Dependencies struct {
	Plugins []string `yaml:"plugins,omitempty"`
	Tools   []string `yaml:"tools,omitempty"`
}

// IsEmpty reports whether no dependency is declared.
func (d Dependencies) IsEmpty() bool {
	return len(d.Plugins) == 0 && len(d.Tools) == 0
}

// Source is how the descriptor content is produced for a build: either a
// Template or a Structured descriptor.
type Source interface {
	isSource()
}

// Template produces the descriptor by token substitution on an authored file.
type Template struct {
	Path   string
	Tokens map[string]string
}

// Structured produces the descriptor from data.
type Structured struct {
	Descriptor ServerDescriptor
}

func (Template) isSource()   {}
func (Structured) isSource() {}
