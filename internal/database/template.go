package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/onpardev/mymcp/api/internal/models"
)

// UpsertTemplate registers a template keyed by (name, version). An existing row
// is returned unchanged so concurrent registrations converge on one ID.
func (db *DB) UpsertTemplate(ctx context.Context, tmpl *models.McpServerTemplate) (*models.McpServerTemplate, error) {
	capabilities, err := json.Marshal(tmpl.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	defaults, err := json.Marshal(tmpl.DefaultConfiguration)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal default configuration: %w", err)
	}

	query := `
		INSERT INTO mcp_server_templates (
			name, description, version, category, documentation_url, repository_url,
			is_official, capabilities, default_configuration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name, version) DO UPDATE SET name = mcp_server_templates.name
		RETURNING id, name, description, version, category, documentation_url, repository_url,
		          is_official, capabilities, default_configuration, created_at, updated_at
	`

	var out models.McpServerTemplate
	var capabilitiesJSON, defaultsJSON []byte
	err = db.Pool.QueryRow(ctx, query,
		tmpl.Name,
		tmpl.Description,
		tmpl.Version,
		tmpl.Category,
		tmpl.DocumentationURL,
		tmpl.RepositoryURL,
		tmpl.IsOfficial,
		capabilities,
		defaults,
	).Scan(
		&out.ID,
		&out.Name,
		&out.Description,
		&out.Version,
		&out.Category,
		&out.DocumentationURL,
		&out.RepositoryURL,
		&out.IsOfficial,
		&capabilitiesJSON,
		&defaultsJSON,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert template: %w", err)
	}

	if err := json.Unmarshal(capabilitiesJSON, &out.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}
	if err := json.Unmarshal(defaultsJSON, &out.DefaultConfiguration); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default configuration: %w", err)
	}

	return &out, nil
}

// UpsertContainerSpec registers a container spec keyed by name
func (db *DB) UpsertContainerSpec(ctx context.Context, spec *models.ContainerSpec) (*models.ContainerSpec, error) {
	env, err := json.Marshal(spec.EnvironmentVariables)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal environment: %w", err)
	}

	query := `
		INSERT INTO container_specs (
			name, description, image_name, image_tag, cpu_limit_millicores,
			memory_limit_mb, port, environment_variables
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET name = container_specs.name
		RETURNING id, name, description, image_name, image_tag, cpu_limit_millicores,
		          memory_limit_mb, port, environment_variables, created_at, updated_at
	`

	var out models.ContainerSpec
	var envJSON []byte
	err = db.Pool.QueryRow(ctx, query,
		spec.Name,
		spec.Description,
		spec.ImageName,
		spec.ImageTag,
		spec.CPULimitMillicores,
		spec.MemoryLimitMB,
		spec.Port,
		env,
	).Scan(
		&out.ID,
		&out.Name,
		&out.Description,
		&out.ImageName,
		&out.ImageTag,
		&out.CPULimitMillicores,
		&out.MemoryLimitMB,
		&out.Port,
		&envJSON,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert container spec: %w", err)
	}

	if err := json.Unmarshal(envJSON, &out.EnvironmentVariables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment: %w", err)
	}

	return &out, nil
}

// GetContainerSpec retrieves a container spec by ID, or nil
func (db *DB) GetContainerSpec(ctx context.Context, id uuid.UUID) (*models.ContainerSpec, error) {
	query := `
		SELECT id, name, description, image_name, image_tag, cpu_limit_millicores,
		       memory_limit_mb, port, environment_variables, created_at, updated_at
		FROM container_specs
		WHERE id = $1
	`

	var out models.ContainerSpec
	var envJSON []byte
	err := db.Pool.QueryRow(ctx, query, id).Scan(
		&out.ID,
		&out.Name,
		&out.Description,
		&out.ImageName,
		&out.ImageTag,
		&out.CPULimitMillicores,
		&out.MemoryLimitMB,
		&out.Port,
		&envJSON,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get container spec: %w", err)
	}

	if err := json.Unmarshal(envJSON, &out.EnvironmentVariables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment: %w", err)
	}

	return &out, nil
}
