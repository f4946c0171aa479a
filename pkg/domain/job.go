// Package domain holds the data model shared by every pipeline stage and
// the status/launcher layers: jobs, configs, comments, arguments,
// embeddings, cluster assignments and labels, status records, and token
// usage accounting.
package domain

import "time"

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAzure      Provider = "azure"
	ProviderGemini     Provider = "gemini"
	ProviderOpenRouter Provider = "openrouter"
	ProviderLocal      Provider = "local"
)

// ClusterMode selects between an explicit cluster-count pair and an
// auto-tuned sweep. Exactly one of Fixed/Auto on ClusteringConfig is set
// depending on this value.
type ClusterMode string

const (
	ClusterModeFixed ClusterMode = "fixed"
	ClusterModeAuto  ClusterMode = "auto"
)

// FixedClusterConfig pins the number of clusters at each level.
type FixedClusterConfig struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
}

// AutoClusterConfig bounds the sweep ranges used by the clustering
// engine's auto-tune mode (see cluster.AutoTune).
type AutoClusterConfig struct {
	TopMin     int `json:"top_min"`
	TopMax     int `json:"top_max"`
	BottomMax  int `json:"bottom_max"`
}

// ClusteringConfig is the canonical shape resolving the cluster_nums vs.
// auto_cluster ambiguity in the source material: a single struct tagged
// by Mode, with exactly one of Fixed or Auto populated.
type ClusteringConfig struct {
	Mode   ClusterMode        `json:"mode"`
	Fixed  *FixedClusterConfig `json:"fixed,omitempty"`
	Auto   *AutoClusterConfig  `json:"auto,omitempty"`
}

// Validate checks the exactly-one-of invariant and basic range sanity.
func (c ClusteringConfig) Validate() error {
	switch c.Mode {
	case ClusterModeFixed:
		if c.Fixed == nil {
			return ErrConfigInvalid("clustering: mode=fixed requires fixed config")
		}
		if c.Auto != nil {
			return ErrConfigInvalid("clustering: mode=fixed must not set auto config")
		}
		if c.Fixed.Top <= 0 || c.Fixed.Bottom <= 0 {
			return ErrConfigInvalid("clustering: top and bottom must be positive")
		}
		if c.Fixed.Top >= c.Fixed.Bottom {
			return ErrConfigInvalid("clustering: top must be < bottom")
		}
	case ClusterModeAuto:
		if c.Auto == nil {
			return ErrConfigInvalid("clustering: mode=auto requires auto config")
		}
		if c.Fixed != nil {
			return ErrConfigInvalid("clustering: mode=auto must not set fixed config")
		}
		a := c.Auto
		if a.TopMin <= 0 || a.TopMax <= 0 || a.BottomMax <= 0 {
			return ErrConfigInvalid("clustering: auto ranges must be positive")
		}
		if a.TopMin > a.TopMax {
			return ErrConfigInvalid("clustering: top_min must be <= top_max")
		}
		if a.TopMax >= a.BottomMax {
			return ErrConfigInvalid("clustering: top_max must be < bottom_max")
		}
	default:
		return ErrConfigInvalid("clustering: mode must be \"fixed\" or \"auto\"")
	}
	return nil
}

// EmbeddingBatching bounds how the embedding stage groups inputs into
// provider calls. Exposed as a config knob per spec's open question on
// the 200000-token vs. 1000-item batching ambiguity: both caps apply
// simultaneously, whichever is hit first ends the batch.
type EmbeddingBatching struct {
	MaxTokensPerRequest int `json:"max_tokens_per_request"`
	MaxItemsPerRequest  int `json:"max_items_per_request"`
}

// DefaultEmbeddingBatching returns the spec's documented defaults.
func DefaultEmbeddingBatching() EmbeddingBatching {
	return EmbeddingBatching{MaxTokensPerRequest: 200000, MaxItemsPerRequest: 1000}
}

// CategorySpec declares one category-classification column for the
// forward-compatible extraction.categories extension slot.
type CategorySpec struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// StagePrompts carries the LLM prompt text for each stage that calls out
// to the gateway. Prompt authorship itself is out of scope; these are
// opaque strings supplied by the caller.
type StagePrompts struct {
	Extraction      string `json:"extraction"`
	InitialLabel    string `json:"initial_labelling"`
	MergeLabel      string `json:"merge_labelling"`
	Overview        string `json:"overview"`
}

// StageSkips carries independent per-stage skip flags.
type StageSkips struct {
	Extraction   bool `json:"extraction,omitempty"`
	Embedding    bool `json:"embedding,omitempty"`
	Clustering   bool `json:"clustering,omitempty"`
	InitialLabel bool `json:"initial_labelling,omitempty"`
	MergeLabel   bool `json:"merge_labelling,omitempty"`
	Overview     bool `json:"overview,omitempty"`
	Aggregation  bool `json:"aggregation,omitempty"`
}

// Config is a job's immutable-once-started configuration.
type Config struct {
	Slug     string `json:"slug"`
	Question string `json:"question"`
	Intro    string `json:"intro"`

	Provider           Provider `json:"provider"`
	Model              string   `json:"model"`
	LocalAddress       string   `json:"local_address,omitempty"`
	IsEmbeddedAtLocal  bool     `json:"is_embedded_at_local,omitempty"`

	Workers     int `json:"workers"`
	SamplingNum int `json:"sampling_num,omitempty"`

	Clustering ClusteringConfig  `json:"clustering"`
	Batching   EmbeddingBatching `json:"embedding_batching"`

	Prompts StagePrompts `json:"prompts"`
	Skip    StageSkips   `json:"skip"`

	Properties      []string            `json:"properties,omitempty"`
	HiddenValues    map[string][]string `json:"hidden_values,omitempty"`
	Categories      []CategorySpec      `json:"categories,omitempty"`

	IsPubcom          bool `json:"is_pubcom,omitempty"`
	EnableSourceLink  bool `json:"enable_source_link,omitempty"`

	// Translations is an extension slot: translation itself is out of
	// scope (no LLM call is made here), but a caller that ran its own
	// translation pass externally can attach the result here and have
	// it passed through into the aggregated report as-is.
	Translations map[string]map[string]string `json:"translations,omitempty"`
}

// Validate enforces the required-keys and consistency rules from spec §6/§7.
func (c *Config) Validate() error {
	if c.Slug == "" {
		return ErrConfigInvalid("config: slug is required")
	}
	if c.Question == "" {
		return ErrConfigInvalid("config: question is required")
	}
	switch c.Provider {
	case ProviderOpenAI, ProviderAzure, ProviderGemini, ProviderOpenRouter, ProviderLocal:
	default:
		return ErrConfigInvalid("config: unknown provider " + string(c.Provider))
	}
	if c.Model == "" {
		return ErrConfigInvalid("config: model is required")
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SamplingNum <= 0 {
		c.SamplingNum = 30
	}
	if c.Prompts.Extraction == "" {
		return ErrConfigInvalid("config: extraction.prompt is required")
	}
	if c.Batching.MaxTokensPerRequest <= 0 || c.Batching.MaxItemsPerRequest <= 0 {
		c.Batching = DefaultEmbeddingBatching()
	}
	return c.Clustering.Validate()
}

// Comment is one row of the input corpus. Input-only; never mutated.
type Comment struct {
	CommentID  string            `json:"comment_id"`
	Body       string            `json:"body"`
	URL        string            `json:"url,omitempty"`
	Source     string            `json:"source,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Job owns a Config, an input corpus, a Status, and the stage outputs
// produced as the pipeline runs. Created by the Launcher; destroyed only
// by an explicit tombstone (Status.State == StateDeleted).
type Job struct {
	Slug      string     `json:"slug"`
	Config    Config     `json:"config"`
	Comments  []Comment  `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
}
