package registry

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/berth/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeFormat is RFC 3339 with fixed-width nanoseconds. Records are stored in
// UTC, so lexicographic order on these strings matches chronological order
// and ORDER BY works without parsing.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// SQLiteRegistry
// =============================================================================

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	db *sqlx.DB
}

// NewSQLiteRegistry opens the database and runs migrations.
func NewSQLiteRegistry(dsn string) (*SQLiteRegistry, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewRegistryError("NewSQLiteRegistry", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewRegistryError("NewSQLiteRegistry", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewRegistryError("NewSQLiteRegistry", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteRegistry{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

// =============================================================================
// Row Mapping
// =============================================================================

// deploymentRow represents a deployment record row in the database.
type deploymentRow struct {
	ID           string  `db:"id"`
	ProjectID    string  `db:"project_id"`
	ProjectName  string  `db:"project_name"`
	Slot         string  `db:"slot"`
	Status       string  `db:"status"`
	ContainerRef string  `db:"container_ref"`
	Image        string  `db:"image"`
	Tag          string  `db:"tag"`
	Ports        string  `db:"ports"`
	Target       string  `db:"target"`
	Endpoint     string  `db:"endpoint"`
	ErrorMessage string  `db:"error_message"`
	Logs         string  `db:"logs"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	DeployedAt   *string `db:"deployed_at"`
}

func toRow(d *domain.Deployment) (map[string]any, error) {
	portsJSON, err := json.Marshal(d.Ports)
	if err != nil {
		return nil, NewRegistryError("Upsert", d.ID, "failed to serialize ports", ErrInvalidData)
	}

	var deployedAt *string
	if d.DeployedAt != nil {
		s := d.DeployedAt.UTC().Format(timeFormat)
		deployedAt = &s
	}

	return map[string]any{
		"id":            d.ID,
		"project_id":    d.ProjectID,
		"project_name":  d.ProjectName,
		"slot":          d.Slot,
		"status":        string(d.Status),
		"container_ref": d.ContainerRef,
		"image":         d.Image,
		"tag":           d.Tag,
		"ports":         string(portsJSON),
		"target":        d.Target,
		"endpoint":      d.Endpoint,
		"error_message": d.ErrorMessage,
		"logs":          d.Logs,
		"created_at":    d.CreatedAt.UTC().Format(timeFormat),
		"updated_at":    d.UpdatedAt.UTC().Format(timeFormat),
		"deployed_at":   deployedAt,
	}, nil
}

// rowToDeployment converts a database row to a domain.Deployment.
func rowToDeployment(row *deploymentRow) (*domain.Deployment, error) {
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, row.UpdatedAt)

	var deployedAt *time.Time
	if row.DeployedAt != nil && *row.DeployedAt != "" {
		t, _ := time.Parse(time.RFC3339Nano, *row.DeployedAt)
		deployedAt = &t
	}

	var ports []int
	if row.Ports != "" && row.Ports != "null" {
		if err := json.Unmarshal([]byte(row.Ports), &ports); err != nil {
			return nil, NewRegistryError("rowToDeployment", row.ID, "failed to parse ports", ErrInvalidData)
		}
	}

	return &domain.Deployment{
		ID:           row.ID,
		ProjectID:    row.ProjectID,
		ProjectName:  row.ProjectName,
		Slot:         row.Slot,
		Status:       domain.DeploymentStatus(row.Status),
		ContainerRef: row.ContainerRef,
		Image:        row.Image,
		Tag:          row.Tag,
		Ports:        ports,
		Target:       row.Target,
		Endpoint:     row.Endpoint,
		ErrorMessage: row.ErrorMessage,
		Logs:         row.Logs,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		DeployedAt:   deployedAt,
	}, nil
}

// =============================================================================
// Registry Operations
// =============================================================================

// Upsert writes the record, inserting or replacing by ID. The original
// created_at survives replacement.
func (r *SQLiteRegistry) Upsert(ctx context.Context, d *domain.Deployment) error {
	row, err := toRow(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (
			id, project_id, project_name, slot, status, container_ref,
			image, tag, ports, target, endpoint, error_message, logs,
			created_at, updated_at, deployed_at
		) VALUES (
			:id, :project_id, :project_name, :slot, :status, :container_ref,
			:image, :tag, :ports, :target, :endpoint, :error_message, :logs,
			:created_at, :updated_at, :deployed_at
		)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			project_name = excluded.project_name,
			slot = excluded.slot,
			status = excluded.status,
			container_ref = excluded.container_ref,
			image = excluded.image,
			tag = excluded.tag,
			ports = excluded.ports,
			target = excluded.target,
			endpoint = excluded.endpoint,
			error_message = excluded.error_message,
			logs = excluded.logs,
			updated_at = excluded.updated_at,
			deployed_at = excluded.deployed_at`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return NewRegistryError("Upsert", d.ID, err.Error(), err)
	}

	return nil
}

// Get returns the record with the given ID.
func (r *SQLiteRegistry) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	query := `SELECT * FROM deployments WHERE id = ?`

	var row deploymentRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewRegistryError("Get", id, "deployment not found", ErrNotFound)
		}
		return nil, NewRegistryError("Get", id, err.Error(), err)
	}

	return rowToDeployment(&row)
}

// GetByProject returns every record for a project, newest first.
func (r *SQLiteRegistry) GetByProject(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	query := `SELECT * FROM deployments WHERE project_id = ? ORDER BY created_at DESC`

	var rows []deploymentRow
	if err := r.db.SelectContext(ctx, &rows, query, projectID); err != nil {
		return nil, NewRegistryError("GetByProject", projectID, err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		d, err := rowToDeployment(&row)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}

	return deployments, nil
}

// Delete removes the record with the given ID.
func (r *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM deployments WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return NewRegistryError("Delete", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewRegistryError("Delete", id, "deployment not found", ErrNotFound)
	}

	return nil
}

// ListProjects returns the distinct project IDs with at least one record.
func (r *SQLiteRegistry) ListProjects(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT project_id FROM deployments ORDER BY project_id`

	var projects []string
	if err := r.db.SelectContext(ctx, &projects, query); err != nil {
		return nil, NewRegistryError("ListProjects", "", err.Error(), err)
	}

	return projects, nil
}

// CountByStatus returns how many records sit in each status.
func (r *SQLiteRegistry) CountByStatus(ctx context.Context) (map[domain.DeploymentStatus]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM deployments GROUP BY status`

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, NewRegistryError("CountByStatus", "", err.Error(), err)
	}

	counts := make(map[domain.DeploymentStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.DeploymentStatus(row.Status)] = row.Count
	}

	return counts, nil
}
