// Package sql implements the repository ports on a gorm connection.
package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/caseflow/pkg/batch/adapter/database"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
)

// ProcessRepository implements repository.Process.
type ProcessRepository struct {
	conn database.DBConnection
}

// NewProcessRepository creates a ProcessRepository.
func NewProcessRepository(conn database.DBConnection) *ProcessRepository {
	return &ProcessRepository{conn: conn}
}

var _ repository.Process = (*ProcessRepository)(nil)

// SaveProcess inserts a new process.
// p: The process to insert. Its Version is stored as is.
// Returns: An error if the insert fails.
func (r *ProcessRepository) SaveProcess(ctx context.Context, p *model.Process) error {
	const op = "ProcessRepository.SaveProcess"
	if err := r.conn.GormDB(ctx).Create(fromDomainProcess(p)).Error; err != nil {
		return exception.NewBatchError(op, fmt.Sprintf("failed to save process (ID: %s)", p.ID), err, false, true)
	}
	return nil
}

// UpdateProcess writes the mutable columns of p if nobody changed the row
// since p was read, then bumps p.Version.
func (r *ProcessRepository) UpdateProcess(ctx context.Context, p *model.Process) error {
	const op = "ProcessRepository.UpdateProcess"

	originalVersion := p.Version
	p.Version++
	rows, err := r.conn.ExecuteUpdate(ctx, ProcessEntity{}.TableName(), processValues(p),
		map[string]interface{}{"id": p.ID, "version": originalVersion})
	if err != nil {
		p.Version = originalVersion
		return exception.NewBatchError(op, fmt.Sprintf("failed to update process (ID: %s)", p.ID), err, false, true)
	}
	if rows == 0 {
		p.Version = originalVersion
		return exception.NewOptimisticLockingFailureException("repository",
			fmt.Sprintf("process (ID: %s) with version %d not found for update", p.ID, originalVersion), nil)
	}
	return nil
}

// FindProcessByID loads one process.
// Returns: The process, or repository.ErrProcessNotFound.
func (r *ProcessRepository) FindProcessByID(ctx context.Context, id string) (*model.Process, error) {
	const op = "ProcessRepository.FindProcessByID"
	var entity ProcessEntity
	err := r.conn.GormDB(ctx).Where("id = ?", id).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrProcessNotFound
	}
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to find process by ID: %s", id), err, false, true)
	}
	return toDomainProcess(&entity), nil
}

// FindProcessesByStatus lists processes in creation order. No statuses
// lists every process.
func (r *ProcessRepository) FindProcessesByStatus(ctx context.Context, statuses ...model.ProcessStatus) ([]*model.Process, error) {
	const op = "ProcessRepository.FindProcessesByStatus"
	var entities []ProcessEntity
	db := r.conn.GormDB(ctx)
	if len(statuses) > 0 {
		db = db.Where("status IN ?", statuses)
	}
	if err := db.Order("created_at").Find(&entities).Error; err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("failed to list processes in %v", statuses), err, false, true)
	}
	out := make([]*model.Process, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainProcess(&entities[i]))
	}
	return out, nil
}
