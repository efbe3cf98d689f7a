package content

// RequirementKind enumerates hands-on submission types.
type RequirementKind string

const (
	KindProfileURL     RequirementKind = "profile_url"
	KindRepoFork       RequirementKind = "repo_fork"
	KindDeployedApp    RequirementKind = "deployed_app"
	KindCTFToken       RequirementKind = "ctf_token"
	KindFilePattern    RequirementKind = "file_pattern"
	KindContainerImage RequirementKind = "container_image"
)

// KnownKind reports whether k is a recognized requirement kind.
func KnownKind(k RequirementKind) bool {
	switch k {
	case KindProfileURL, KindRepoFork, KindDeployedApp, KindCTFToken, KindFilePattern, KindContainerImage:
		return true
	}
	return false
}

// Phase is a top-level curriculum unit loaded from a phase YAML file.
// Immutable after load.
type Phase struct {
	Ordinal      int                  `yaml:"phase"`
	Name         string               `yaml:"name"`
	Slug         string               `yaml:"slug"`
	Topics       []Topic              `yaml:"topics"`
	Requirements []HandsOnRequirement `yaml:"requirements"`
}

// Topic is a unit within a phase with ordered steps and knowledge questions.
type Topic struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name"`
	Steps     []Step     `yaml:"steps"`
	Questions []Question `yaml:"questions"`
}

// Step is one learning step; Order is 1-indexed within the topic.
type Step struct {
	Order int    `yaml:"order"`
	Text  string `yaml:"text"`
	URL   string `yaml:"url,omitempty"`
	Code  string `yaml:"code,omitempty"`
}

// Question is an LLM-graded knowledge question. Concepts feed the grading
// collaborator only and are never serialized to the learner-facing API.
type Question struct {
	ID       string   `yaml:"id"`
	Prompt   string   `yaml:"prompt"`
	Concepts []string `yaml:"concepts"`
}

// HandsOnRequirement is a proof-of-work submission gating phase completion.
// Params are kind-specific validation parameters.
type HandsOnRequirement struct {
	ID     string            `yaml:"id"`
	Name   string            `yaml:"name"`
	Kind   RequirementKind   `yaml:"kind"`
	Params map[string]string `yaml:"params"`
}
