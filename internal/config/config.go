// Package config loads and validates codelens' YAML configuration, with an
// environment-variable overlay in the style of the original service's
// config::Environment prefix/separator convention.
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/screenager/codelens/internal/errs"
)

// AppName is the env-var prefix: <AppName>_CONFIG_PATH, <AppName>_DEBUG, ...
const AppName = "CODELENS"

// ResponseType selects how Retriever shapes its tool response.
type ResponseType string

const (
	ResponsePrompt ResponseType = "Prompt"
	ResponseJSON   ResponseType = "Json"
)

// Semantic holds the semantic-search/indexing knobs.
type Semantic struct {
	DownloadModel   bool   `yaml:"download_model"`
	ModelsDir       string `yaml:"models_dir"`
	VectorStorePath string `yaml:"lancedb_store"`
	Model           string `yaml:"model"`
	ChunkSize       int    `yaml:"chunk_size"`
	OverlapSize     int    `yaml:"overlap_size"`
	Pattern         string `yaml:"pattern"`
	BatchSize       int    `yaml:"batch_size"`
	SearchLimit     int    `yaml:"search_limit"`
	IndexEmbeddings bool   `yaml:"index_embeddings"`
	EmbeddingDim    int    `yaml:"embedding_dim"`
	OrtLibPath      string `yaml:"ort_lib_path"`
	NumThreads      int    `yaml:"num_threads"`
}

// Fuzzy holds the LSP-backed fuzzy-search knobs.
type Fuzzy struct {
	LspServer     string            `yaml:"lsp_server"`
	ServerArgs    []string          `yaml:"server_args"`
	WorkspaceURI  string            `yaml:"workspace_uri"`
	ServerOptions map[string]any    `yaml:"server_options"`
	Parallelism   int               `yaml:"parallelizm"`
	ProgressToken string            `yaml:"progress_token"`
}

// Search groups the two retrieval modalities' config.
type Search struct {
	Semantic Semantic `yaml:"semantic"`
	Fuzzy    Fuzzy    `yaml:"fuzzy"`
}

// Description holds per-field tool-schema descriptions, forwarded verbatim
// into the MCP tool registration.
type Description struct {
	Server         string `yaml:"server"`
	FuzzyQuery     string `yaml:"fuzzy_query"`
	SemanticQuery  string `yaml:"semantic_query"`
}

// Templates points at the rule/prompt template files.
type Templates struct {
	TemplatesPath string      `yaml:"templates_path"`
	Prompt        string      `yaml:"prompt"`
	Description   Description `yaml:"description"`
}

// Config is the top-level codelens configuration.
type Config struct {
	Debug           bool          `yaml:"debug"`
	ShutdownTimeout uint64        `yaml:"shutdown_timeout"`
	ChannelSize     int           `yaml:"channel_size"`
	DebounceSec     uint64        `yaml:"debounce_sec"`
	Response        ResponseType  `yaml:"response"`
	Search          Search        `yaml:"search"`
	Templates       Templates     `yaml:"templates"`
	LogDir          string        `yaml:"log_dir"`
	Rules           string        `yaml:"rules"`
}

// Default returns the configuration's documented defaults, overridden by
// whatever the YAML file and environment specify.
func Default() Config {
	return Config{
		ShutdownTimeout: 5000,
		ChannelSize:     256,
		DebounceSec:     2,
		Response:        ResponsePrompt,
		Search: Search{
			Semantic: Semantic{
				ChunkSize:   60,
				OverlapSize: 10,
				Pattern:     "**/*",
				BatchSize:    16,
				SearchLimit:  10,
				EmbeddingDim: 384,
			},
			Fuzzy: Fuzzy{
				Parallelism:   4,
				ProgressToken: "rustAnalyzer/Roots Scanned",
			},
		},
	}
}

// ConfigPathFlag resolves the --config-path value: explicit flag wins, else
// <AppName>_CONFIG_PATH, else "config.yml".
func ConfigPathFlag(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(AppName + "_CONFIG_PATH"); v != "" {
		return v
	}
	return "config.yml"
}

// Load reads, env-overlays, defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", errs.ErrConfig, path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", errs.ErrConfig, path, err)
	}

	overlayEnv(&cfg, AppName)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants spec.md §6 names explicitly.
func (c *Config) Validate() error {
	if c.Search.Semantic.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be >= 1, got %d", errs.ErrConfig, c.Search.Semantic.ChunkSize)
	}
	if c.Search.Semantic.OverlapSize > c.Search.Semantic.ChunkSize-1 {
		return fmt.Errorf("%w: overlap_size must be <= chunk_size-1, got overlap=%d chunk=%d",
			errs.ErrConfig, c.Search.Semantic.OverlapSize, c.Search.Semantic.ChunkSize)
	}
	if c.Search.Semantic.EmbeddingDim < 1 {
		return fmt.Errorf("%w: embedding_dim must be >= 1, got %d", errs.ErrConfig, c.Search.Semantic.EmbeddingDim)
	}
	if c.Search.Fuzzy.WorkspaceURI != "" {
		u, err := url.Parse(c.Search.Fuzzy.WorkspaceURI)
		if err != nil || u.Scheme != "file" {
			return fmt.Errorf("%w: workspace_uri must use the file:// scheme, got %q",
				errs.ErrConfig, c.Search.Fuzzy.WorkspaceURI)
		}
	}
	return nil
}

// overlayEnv applies <prefix>_<SECTION>_<KEY>-shaped environment overrides
// on top of a parsed Config, mirroring the original's config::Environment
// prefix/separator behavior. Only scalar leaf fields (string, bool, integer)
// are overlaid; slice and map fields such as server_args and server_options
// are not.
func overlayEnv(cfg *Config, prefix string) {
	walk(reflect.ValueOf(cfg).Elem(), prefix)
}

func walk(v reflect.Value, envPrefix string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		tag := field.Tag.Get("yaml")
		name := strings.Split(tag, ",")[0]
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		envKey := envPrefix + "_" + strings.ToUpper(name)

		switch fv.Kind() {
		case reflect.Struct:
			walk(fv, envKey)
		case reflect.String:
			if v, ok := os.LookupEnv(envKey); ok {
				fv.SetString(v)
			}
		case reflect.Bool:
			if v, ok := os.LookupEnv(envKey); ok {
				if b, err := strconv.ParseBool(v); err == nil {
					fv.SetBool(b)
				}
			}
		case reflect.Int, reflect.Int64:
			if v, ok := os.LookupEnv(envKey); ok {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					fv.SetInt(n)
				}
			}
		case reflect.Uint64, reflect.Uint:
			if v, ok := os.LookupEnv(envKey); ok {
				if n, err := strconv.ParseUint(v, 10, 64); err == nil {
					fv.SetUint(n)
				}
			}
		}
	}
}
