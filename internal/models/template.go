package models

import (
	"time"

	"github.com/google/uuid"
)

// McpServerTemplate describes a kind of MCP server and what it can do
type McpServerTemplate struct {
	ID                   uuid.UUID             `json:"id"`
	Name                 string                `json:"name"`
	Description          *string               `json:"description,omitempty"`
	Version              string                `json:"version"`
	Category             string                `json:"category"`
	DocumentationURL     *string               `json:"documentation_url,omitempty"`
	RepositoryURL        *string               `json:"repository_url,omitempty"`
	IsOfficial           bool                  `json:"is_official"`
	Capabilities         []McpServerCapability `json:"capabilities"`
	DefaultConfiguration map[string]string     `json:"default_configuration"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// McpServerCapability is a single feature advertised by a template
type McpServerCapability struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	IsRequired  bool   `json:"is_required" yaml:"required"`
}

// ContainerSpec describes the image and resources backing a server
type ContainerSpec struct {
	ID                   uuid.UUID         `json:"id"`
	Name                 string            `json:"name"`
	Description          *string           `json:"description,omitempty"`
	ImageName            string            `json:"image_name"`
	ImageTag             string            `json:"image_tag"`
	CPULimitMillicores   int               `json:"cpu_limit_millicores"`
	MemoryLimitMB        int               `json:"memory_limit_mb"`
	Port                 int               `json:"port"`
	EnvironmentVariables map[string]string `json:"environment_variables"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// ImageRef returns name:tag
func (c *ContainerSpec) ImageRef() string {
	if c.ImageTag == "" {
		return c.ImageName
	}
	return c.ImageName + ":" + c.ImageTag
}
