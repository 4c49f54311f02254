package templates

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/onpardev/mymcp/api/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// catalogFile is the on-disk layout of a server-type catalog
type catalogFile struct {
	Default     string                    `yaml:"default"`
	ServerTypes map[string]serverTypeFile `yaml:"serverTypes"`
}

type serverTypeFile struct {
	Template struct {
		Name                 string                       `yaml:"name"`
		Description          string                       `yaml:"description"`
		Version              string                       `yaml:"version"`
		Category             string                       `yaml:"category"`
		DocumentationURL     string                       `yaml:"documentationUrl"`
		RepositoryURL        string                       `yaml:"repositoryUrl"`
		Official             bool                         `yaml:"official"`
		Capabilities         []models.McpServerCapability `yaml:"capabilities"`
		DefaultConfiguration map[string]string            `yaml:"defaultConfiguration"`
	} `yaml:"template"`
	Container struct {
		Name          string            `yaml:"name"`
		Image         string            `yaml:"image"`
		Tag           string            `yaml:"tag"`
		Port          int               `yaml:"port"`
		CPUMillicores int               `yaml:"cpuMillicores"`
		MemoryMB      int               `yaml:"memoryMB"`
		Env           map[string]string `yaml:"env"`
	} `yaml:"container"`
	Env EnvMapping `yaml:"env"`
}

// EnvMapping names the container variables that receive request credentials
type EnvMapping struct {
	Token      string `yaml:"token"`
	Repository string `yaml:"repository"`
}

// ServerType is one provisionable kind of MCP server
type ServerType struct {
	Key       models.ServerType
	Template  models.McpServerTemplate
	Container models.ContainerSpec
	Env       EnvMapping
}

// Credentials are the per-request values a server is started with
type Credentials struct {
	Token      string
	Repository *string
}

// Environment builds the plain container environment. Static container
// variables come first; the request's repository wins. The token is left out
// and returned by Secrets instead.
func (st *ServerType) Environment(creds Credentials) map[string]string {
	env := make(map[string]string, len(st.Container.EnvironmentVariables)+1)
	for k, v := range st.Container.EnvironmentVariables {
		if k != st.Env.Token {
			env[k] = v
		}
	}
	if st.Env.Repository != "" && creds.Repository != nil && *creds.Repository != "" {
		env[st.Env.Repository] = *creds.Repository
	}
	return env
}

// Secrets returns the credential variables of the container environment
func (st *ServerType) Secrets(creds Credentials) map[string]string {
	return map[string]string{st.Env.Token: creds.Token}
}

// Catalog is the immutable registry of server types
type Catalog struct {
	types       map[models.ServerType]*ServerType
	defaultType models.ServerType
}

// Default returns the built-in catalog
func Default() *Catalog {
	catalog, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded server-type catalog is invalid: %v", err))
	}
	return catalog
}

// ConfigMapSource reads catalog YAML from the cluster
type ConfigMapSource interface {
	LoadCatalogYAML(ctx context.Context, namespace, configMapName string) ([]byte, error)
}

// LoadOptions selects where the catalog comes from. The first set source wins;
// with none set the built-in catalog is used.
type LoadOptions struct {
	Path          string
	ConfigMaps    ConfigMapSource
	Namespace     string
	ConfigMapName string
}

// Load resolves the catalog from a file, a ConfigMap or the built-in default
func Load(ctx context.Context, opts LoadOptions) (*Catalog, error) {
	switch {
	case opts.Path != "":
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", opts.Path, err)
		}
		return Parse(data)
	case opts.ConfigMaps != nil && opts.ConfigMapName != "":
		data, err := opts.ConfigMaps.LoadCatalogYAML(ctx, opts.Namespace, opts.ConfigMapName)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog ConfigMap: %w", err)
		}
		return Parse(data)
	default:
		return Parse(defaultCatalogYAML)
	}
}

// Parse decodes and validates catalog YAML
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.ServerTypes) == 0 {
		return nil, fmt.Errorf("%w: catalog defines no server types", models.ErrConfiguration)
	}

	title := cases.Title(language.English)
	catalog := &Catalog{types: make(map[models.ServerType]*ServerType, len(file.ServerTypes))}

	for key, entry := range file.ServerTypes {
		key = strings.ToLower(strings.TrimSpace(key))
		if entry.Container.Image == "" {
			return nil, fmt.Errorf("%w: server type %s has no image", models.ErrConfiguration, key)
		}
		if entry.Container.Port <= 0 {
			return nil, fmt.Errorf("%w: server type %s has no port", models.ErrConfiguration, key)
		}
		if entry.Env.Token == "" {
			return nil, fmt.Errorf("%w: server type %s has no token variable", models.ErrConfiguration, key)
		}

		name := entry.Template.Name
		if name == "" {
			name = title.String(strings.ReplaceAll(key, "-", " ")) + " MCP Server"
		}
		version := entry.Template.Version
		if version == "" {
			version = "1.0.0"
		}
		category := entry.Template.Category
		if category == "" {
			category = "General"
		}
		containerName := entry.Container.Name
		if containerName == "" {
			containerName = key + "-mcp-server"
		}
		tag := entry.Container.Tag
		if tag == "" {
			tag = "latest"
		}
		cpu := entry.Container.CPUMillicores
		if cpu == 0 {
			cpu = 1000
		}
		memory := entry.Container.MemoryMB
		if memory == 0 {
			memory = 512
		}
		capabilities := entry.Template.Capabilities
		if capabilities == nil {
			capabilities = []models.McpServerCapability{}
		}
		defaults := entry.Template.DefaultConfiguration
		if defaults == nil {
			defaults = map[string]string{}
		}
		containerEnv := entry.Container.Env
		if containerEnv == nil {
			containerEnv = map[string]string{}
		}

		catalog.types[models.ServerType(key)] = &ServerType{
			Key: models.ServerType(key),
			Template: models.McpServerTemplate{
				Name:                 name,
				Description:          optional(entry.Template.Description),
				Version:              version,
				Category:             category,
				DocumentationURL:     optional(entry.Template.DocumentationURL),
				RepositoryURL:        optional(entry.Template.RepositoryURL),
				IsOfficial:           entry.Template.Official,
				Capabilities:         capabilities,
				DefaultConfiguration: defaults,
			},
			Container: models.ContainerSpec{
				Name:                 containerName,
				Description:          optional(entry.Template.Description),
				ImageName:            entry.Container.Image,
				ImageTag:             tag,
				CPULimitMillicores:   cpu,
				MemoryLimitMB:        memory,
				Port:                 entry.Container.Port,
				EnvironmentVariables: containerEnv,
			},
			Env: entry.Env,
		}
	}

	catalog.defaultType = models.ServerType(strings.ToLower(file.Default))
	if catalog.defaultType == "" && len(catalog.types) == 1 {
		for key := range catalog.types {
			catalog.defaultType = key
		}
	}
	if _, ok := catalog.types[catalog.defaultType]; !ok {
		return nil, fmt.Errorf("%w: default server type %q not in catalog", models.ErrConfiguration, file.Default)
	}

	return catalog, nil
}

// Lookup returns a server type. An empty key selects the default type.
func (c *Catalog) Lookup(key models.ServerType) (*ServerType, error) {
	if key == "" {
		key = c.defaultType
	}
	st, ok := c.types[models.ServerType(strings.ToLower(string(key)))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown server type %q", models.ErrValidation, key)
	}
	return st, nil
}

// Keys lists the server types in name order
func (c *Catalog) Keys() []models.ServerType {
	keys := make([]models.ServerType, 0, len(c.types))
	for key := range c.types {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
