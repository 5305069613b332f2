// Package config contains the loader and strongly typed model for .kitchen-metal.yml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kitchen-metal/metalctl/internal/env"
)

const (
	// DefaultFileName is the configuration file looked up when no path is given.
	DefaultFileName = ".kitchen-metal.yml"

	defaultStateDir     = ".kitchen"
	defaultRegistryFile = "registry.db"
	defaultActor        = "test_kitchen"
	defaultNodeName     = "nothing"
	defaultRecipeName   = "kitchen_metal"
	defaultPlatformAttr = "kitchen_metal"

	// BackendHTTP selects the HTTP node registry.
	BackendHTTP = "http"
	// BackendSQLite selects the local SQLite node registry.
	BackendSQLite = "sqlite"
	// BackendEtcd selects a node registry kept in etcd.
	BackendEtcd = "etcd"
)

// Config is the rendered and defaulted driver configuration.
type Config struct {
	// EnvFiles lists .env files loaded before rendering.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// KitchenRoot is the base directory for scripts, hooks and state.
	// Relative values are resolved against the config file directory.
	KitchenRoot string `yaml:"kitchenRoot,omitempty"`
	// Layout is the optional driver-level script, relative to KitchenRoot.
	Layout string `yaml:"layout,omitempty"`
	// Platforms lists the instances this configuration can drive.
	Platforms []Platform `yaml:"platforms"`
	// PreCreateCommand is a shell command run in KitchenRoot before every create.
	PreCreateCommand string `yaml:"preCreateCommand,omitempty"`
	// DryRun echoes the pre-create command instead of running it.
	DryRun bool `yaml:"dryRun,omitempty"`
	// Actor identifies metalctl to provisioners.
	Actor string `yaml:"actor,omitempty"`
	// StateDir holds per-instance state files, relative to KitchenRoot.
	StateDir string `yaml:"stateDir,omitempty"`
	// DestroyMode is "progress" (default) or "all-or-nothing".
	DestroyMode string `yaml:"destroyMode,omitempty"`
	// Engine configures the convergence engine.
	Engine EngineConfig `yaml:"engine"`
	// Registry configures the node registry.
	Registry RegistryConfig `yaml:"registry,omitempty"`
}

// Platform is a named instance and the platform script that describes it.
type Platform struct {
	// Name identifies the instance on the command line.
	Name string `yaml:"name"`
	// Script is the platform script path relative to KitchenRoot; defaults to Name.
	Script string `yaml:"script,omitempty"`
}

// EngineConfig describes the convergence engine command.
type EngineConfig struct {
	// Command is the engine executable.
	Command string `yaml:"command"`
	// Args are passed to the engine executable.
	Args []string `yaml:"args,omitempty"`
	// Env holds extra variables for the engine process.
	Env map[string]string `yaml:"env,omitempty"`
	// NodeName is the synthetic node the scripts run on.
	NodeName string `yaml:"nodeName,omitempty"`
	// RecipeName names the recipe the scripts are evaluated as.
	RecipeName string `yaml:"recipeName,omitempty"`
	// LocalMode runs the engine against a local registry; defaults to true.
	LocalMode *bool `yaml:"localMode,omitempty"`
}

// RegistryConfig describes where node records are read from.
type RegistryConfig struct {
	// Backend is "http", "etcd" or "sqlite". It defaults to http when URL is
	// set, to etcd when Endpoints are set, and to sqlite otherwise.
	Backend string `yaml:"backend,omitempty"`
	// URL is the base URL of an HTTP registry.
	URL string `yaml:"url,omitempty"`
	// Token is an optional bearer token for the HTTP registry.
	Token string `yaml:"token,omitempty"`
	// Path is the SQLite registry file, relative to KitchenRoot.
	Path string `yaml:"path,omitempty"`
	// Endpoints lists etcd cluster members.
	Endpoints []string `yaml:"endpoints,omitempty"`
	// Prefix is the etcd key prefix holding node documents.
	Prefix string `yaml:"prefix,omitempty"`
}

// LoadOptions describes parameters that influence template rendering of the config file.
type LoadOptions struct {
	// UserVars are inline variables for template rendering.
	UserVars env.Vars
	// VarFiles lists additional var-files to load.
	VarFiles []string
}

// TemplateContext is the data exposed to Go-templates when rendering the config file.
type TemplateContext struct {
	// ConfigDir is the directory containing the config file.
	ConfigDir string
	// Now is the timestamp captured for template rendering.
	Now time.Time
	// UserVars contains inline user variables.
	UserVars env.Vars
	// EnvMap merges OS env, envFiles, var-files and user variables.
	EnvMap env.Vars
}

// rawHeader extracts fields needed before templating.
type rawHeader struct {
	EnvFiles []string `yaml:"envFiles"`
}

// Load reads, renders, parses and defaults the config file at path.
func Load(path string, opts LoadOptions) (*Config, TemplateContext, error) {
	var zeroCtx TemplateContext

	if strings.TrimSpace(path) == "" {
		return nil, zeroCtx, fmt.Errorf("config path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("resolve config path: %w", err)
	}
	rawBytes, err := os.ReadFile(absPath)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("read config %q: %w", absPath, err)
	}

	var header rawHeader
	if err := yaml.Unmarshal(rawBytes, &header); err != nil {
		return nil, zeroCtx, fmt.Errorf("parse top-level config fields: %w", err)
	}

	baseDir := filepath.Dir(absPath)
	envFileVars, err := env.LoadEnvFiles(baseDir, header.EnvFiles)
	if err != nil {
		return nil, zeroCtx, err
	}

	varFileVars := make(env.Vars)
	for _, vf := range opts.VarFiles {
		if strings.TrimSpace(vf) == "" {
			continue
		}
		vp, err := env.LoadVarFile(vf)
		if err != nil {
			return nil, zeroCtx, fmt.Errorf("load var-file %q: %w", vf, err)
		}
		varFileVars = env.Merge(varFileVars, vp)
	}

	ctx := TemplateContext{
		ConfigDir: baseDir,
		Now:       time.Now().UTC(),
		UserVars:  opts.UserVars,
		EnvMap:    env.Merge(env.FromOS(), envFileVars, varFileVars, opts.UserVars),
	}

	rendered, err := RenderTemplate(filepath.Base(absPath), rawBytes, ctx)
	if err != nil {
		return nil, zeroCtx, err
	}

	var cfg Config
	if err := yaml.Unmarshal(rendered, &cfg); err != nil {
		return nil, zeroCtx, fmt.Errorf("parse rendered config: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, zeroCtx, err
	}
	return &cfg, ctx, nil
}

func (c *Config) applyDefaults(baseDir string) {
	switch {
	case strings.TrimSpace(c.KitchenRoot) == "":
		c.KitchenRoot = baseDir
	case !filepath.IsAbs(c.KitchenRoot):
		c.KitchenRoot = filepath.Join(baseDir, c.KitchenRoot)
	}
	if strings.TrimSpace(c.StateDir) == "" {
		c.StateDir = defaultStateDir
	}
	if strings.TrimSpace(c.Actor) == "" {
		c.Actor = defaultActor
	}
	if strings.TrimSpace(c.Engine.NodeName) == "" {
		c.Engine.NodeName = defaultNodeName
	}
	if strings.TrimSpace(c.Engine.RecipeName) == "" {
		c.Engine.RecipeName = defaultRecipeName
	}
	if c.Engine.LocalMode == nil {
		local := true
		c.Engine.LocalMode = &local
	}
	if strings.TrimSpace(c.Registry.Backend) == "" {
		switch {
		case strings.TrimSpace(c.Registry.URL) != "":
			c.Registry.Backend = BackendHTTP
		case len(c.Registry.Endpoints) > 0:
			c.Registry.Backend = BackendEtcd
		default:
			c.Registry.Backend = BackendSQLite
		}
	}
	c.Registry.Backend = strings.ToLower(strings.TrimSpace(c.Registry.Backend))
	if strings.TrimSpace(c.Registry.Path) == "" {
		c.Registry.Path = filepath.Join(c.StateDir, defaultRegistryFile)
	}
	for i := range c.Platforms {
		if strings.TrimSpace(c.Platforms[i].Script) == "" {
			c.Platforms[i].Script = c.Platforms[i].Name
		}
	}
}

// Validate checks the structural constraints of a defaulted config.
func (c *Config) Validate() error {
	if len(c.Platforms) == 0 {
		return fmt.Errorf("config defines no platforms")
	}
	seen := make(map[string]struct{}, len(c.Platforms))
	for i, p := range c.Platforms {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("platforms[%d]: name is empty", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("platform %q is defined more than once", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if strings.TrimSpace(c.Engine.Command) == "" {
		return fmt.Errorf("engine.command must be set")
	}
	switch c.Registry.Backend {
	case BackendHTTP:
		if strings.TrimSpace(c.Registry.URL) == "" {
			return fmt.Errorf("registry.url must be set for the http backend")
		}
	case BackendEtcd:
		if len(c.Registry.Endpoints) == 0 {
			return fmt.Errorf("registry.endpoints must be set for the etcd backend")
		}
	case BackendSQLite:
	default:
		return fmt.Errorf("unsupported registry backend %q", c.Registry.Backend)
	}
	switch strings.ToLower(strings.TrimSpace(c.DestroyMode)) {
	case "", "progress", "all-or-nothing":
	default:
		return fmt.Errorf("unsupported destroyMode %q", c.DestroyMode)
	}
	return nil
}

// Platform returns the platform called name. An empty name selects the only
// platform when exactly one is defined.
func (c *Config) Platform(name string) (Platform, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if len(c.Platforms) == 1 {
			return c.Platforms[0], nil
		}
		return Platform{}, fmt.Errorf("instance name is required when %d platforms are defined", len(c.Platforms))
	}
	for _, p := range c.Platforms {
		if p.Name == name {
			return p, nil
		}
	}
	return Platform{}, fmt.Errorf("platform %q not defined in config", name)
}

// StatePath returns the absolute state directory.
func (c *Config) StatePath() string {
	return c.underRoot(c.StateDir)
}

// RegistryPath returns the absolute SQLite registry path.
func (c *Config) RegistryPath() string {
	return c.underRoot(c.Registry.Path)
}

// PlatformAttribute is the automatic platform attribute reported to scripts.
func (c *Config) PlatformAttribute() string {
	return defaultPlatformAttr
}

func (c *Config) underRoot(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.KitchenRoot, path)
}

// RenderTemplate renders arbitrary text using the config template context and helpers.
func RenderTemplate(name string, raw []byte, ctx TemplateContext) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(buildFuncMap(ctx)).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// buildFuncMap constructs the template functions available in the config file.
func buildFuncMap(ctx TemplateContext) template.FuncMap {
	return template.FuncMap{
		"default": funcDef,
		"toLower": strings.ToLower,
		"slug":    funcSlug,
		"envOr":   funcEnvOr(ctx.EnvMap),
		"ternary": funcTernary,
		"now":     func() time.Time { return ctx.Now },
		"join":    strings.Join,
	}
}

// funcDef returns def when value is empty or whitespace, otherwise value.
func funcDef(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// funcSlug normalizes a value into a lower-case dash-separated slug.
func funcSlug(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, " ", "-")
	v = strings.ReplaceAll(v, "_", "-")
	return v
}

// funcEnvOr returns a function that looks up a key in envMap and falls back to def.
func funcEnvOr(envMap env.Vars) func(key, def string) string {
	return func(key, def string) string {
		if v, ok := envMap[key]; ok && v != "" {
			return v
		}
		return def
	}
}

// funcTernary returns a when cond is true, otherwise b.
func funcTernary(cond bool, a, b any) any {
	if cond {
		return a
	}
	return b
}
