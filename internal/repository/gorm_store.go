package repository

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"
	gormMysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
)

// taskRecord is one tree node as a row. Child order is kept in Position.
type taskRecord struct {
	ID       int `gorm:"primaryKey;autoIncrement:false"`
	RootID   int `gorm:"column:root_id;not null;index"`
	ParentID int `gorm:"column:parent_id;not null;default:0;index"`
	Position int `gorm:"column:position;not null;default:0"`

	Title     string `gorm:"column:title;size:512;not null"`
	MediaType string `gorm:"column:media_type;size:16;not null"`

	DownloadURL          string `gorm:"column:download_url;size:2048"`
	FileName             string `gorm:"column:file_name;size:512"`
	DownloadDirectory    string `gorm:"column:download_directory;size:1024"`
	DestinationDirectory string `gorm:"column:destination_directory;size:1024"`

	DataReceived   int64  `gorm:"column:data_received;not null;default:0"`
	DataTotal      int64  `gorm:"column:data_total;not null;default:0"`
	DownloadStatus string `gorm:"column:download_status;size:32;not null;index"`

	PlexServerID            int    `gorm:"column:plex_server_id;index"`
	PlexLibraryID           int    `gorm:"column:plex_library_id"`
	ServerMachineIdentifier string `gorm:"column:server_machine_identifier;size:128"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the database table name.
func (taskRecord) TableName() string {
	return "download_tasks"
}

// taskSequence hands out task ids through its auto increment column.
type taskSequence struct {
	ID        int `gorm:"primaryKey"`
	CreatedAt time.Time
}

// TableName returns the database table name.
func (taskSequence) TableName() string {
	return "download_task_sequence"
}

var upsertColumns = []string{
	"root_id", "parent_id", "position", "title", "media_type",
	"download_url", "file_name", "download_directory", "destination_directory",
	"data_received", "data_total", "download_status",
	"plex_server_id", "plex_library_id", "server_machine_identifier", "updated_at",
}

// GormTaskStore keeps task trees in MySQL.
type GormTaskStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenGormTaskStore connects to MySQL with dsn and migrates the schema.
func OpenGormTaskStore(dsn string, logger *slog.Logger) (*GormTaskStore, error) {
	db, err := gorm.Open(gormMysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql db")
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGormTaskStore(db, logger)
}

// NewGormTaskStore wraps an open connection and migrates the schema.
func NewGormTaskStore(db *gorm.DB, logger *slog.Logger) (*GormTaskStore, error) {
	if err := db.AutoMigrate(&taskRecord{}, &taskSequence{}); err != nil {
		return nil, errors.Wrap(err, "migrate download tasks")
	}
	logger.Info("task store initialized", "dialect", db.Dialector.Name())
	return &GormTaskStore{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *GormTaskStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(sqlDB.Close())
}

// NextID reserves a fresh task id.
func (s *GormTaskStore) NextID(ctx context.Context) (int, error) {
	seq := taskSequence{}
	if err := s.db.WithContext(ctx).Create(&seq).Error; err != nil {
		return 0, errors.Wrap(err, "reserve task id")
	}
	return seq.ID, nil
}

// GetTask retrieves a task by ID.
func (s *GormTaskStore) GetTask(ctx context.Context, id int) (*domain.DownloadTask, error) {
	rec, err := s.findRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	var children []taskRecord
	if err := s.db.WithContext(ctx).
		Select("id", "parent_id", "position").
		Where("parent_id = ?", id).
		Order("position, id").
		Find(&children).Error; err != nil {
		return nil, errors.Wrapf(err, "load children of task %d", id)
	}

	task := fromRecord(rec)
	for _, c := range children {
		task.ChildIDs = append(task.ChildIDs, c.ID)
	}
	return task, nil
}

// GetTree returns the subtree rooted at id.
func (s *GormTaskStore) GetTree(ctx context.Context, id int) (*domain.TaskTree, error) {
	rec, err := s.findRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.loadTree(ctx, rootOf(rec), id)
}

// GetRootTree returns the whole tree containing id.
func (s *GormTaskStore) GetRootTree(ctx context.Context, id int) (*domain.TaskTree, error) {
	rec, err := s.findRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	rootID := rootOf(rec)
	return s.loadTree(ctx, rootID, rootID)
}

// FindAll returns every task accepted by match, ordered by id.
func (s *GormTaskStore) FindAll(ctx context.Context, match func(*domain.DownloadTask) bool) ([]*domain.DownloadTask, error) {
	var records []taskRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "list download tasks")
	}

	tasks := linkRecords(records)
	var filtered []*domain.DownloadTask
	for _, task := range tasks {
		if match == nil || match(task) {
			filtered = append(filtered, task)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	return filtered, nil
}

// SaveTree upserts every node of tree in one transaction.
func (s *GormTaskStore) SaveTree(ctx context.Context, tree *domain.TaskTree) error {
	records := toRecords(tree)
	if len(records) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return errors.WithStack(tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).CreateInBatches(records, 200).Error)
	})
	if err != nil {
		return errors.Wrapf(err, "save task tree %d", tree.RootID)
	}

	s.logger.Debug("task tree saved", "root_id", tree.RootID, "tasks_count", len(records))
	return nil
}

// DeleteTree removes id and all its descendants.
func (s *GormTaskStore) DeleteTree(ctx context.Context, id int) ([]int, error) {
	tree, err := s.GetTree(ctx, id)
	if err != nil {
		return nil, err
	}
	removed := tree.IDs(id)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return errors.WithStack(tx.Where("id IN ?", removed).Delete(&taskRecord{}).Error)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "delete task tree %d", id)
	}

	s.logger.Debug("task tree deleted", "task_id", id, "removed", len(removed))
	return removed, nil
}

func (s *GormTaskStore) findRecord(ctx context.Context, id int) (*taskRecord, error) {
	var rec taskRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errpkg.ErrTaskNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed find task %d", id)
	}
	return &rec, nil
}

func (s *GormTaskStore) loadTree(ctx context.Context, rootID, id int) (*domain.TaskTree, error) {
	var records []taskRecord
	if err := s.db.WithContext(ctx).
		Where("root_id = ? OR id = ?", rootID, rootID).
		Order("id").
		Find(&records).Error; err != nil {
		return nil, errors.Wrapf(err, "load task tree %d", rootID)
	}

	tree, err := domain.BuildTree(id, linkRecords(records))
	if err != nil {
		return nil, errors.Wrapf(err, "build task tree %d", id)
	}
	return tree, nil
}

func rootOf(rec *taskRecord) int {
	if rec.RootID > 0 {
		return rec.RootID
	}
	return rec.ID
}

// linkRecords maps rows to tasks and rebuilds ChildIDs from parent ids and positions.
func linkRecords(records []taskRecord) []*domain.DownloadTask {
	byID := make(map[int]*domain.DownloadTask, len(records))
	tasks := make([]*domain.DownloadTask, 0, len(records))
	for i := range records {
		task := fromRecord(&records[i])
		byID[task.ID] = task
		tasks = append(tasks, task)
	}

	ordered := make([]taskRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, rec := range ordered {
		if parent, ok := byID[rec.ParentID]; ok && rec.ParentID != rec.ID {
			parent.ChildIDs = append(parent.ChildIDs, rec.ID)
		}
	}
	return tasks
}

func fromRecord(rec *taskRecord) *domain.DownloadTask {
	return &domain.DownloadTask{
		ID:                      rec.ID,
		RootDownloadTaskID:      rec.RootID,
		ParentID:                rec.ParentID,
		Title:                   rec.Title,
		MediaType:               domain.MediaType(rec.MediaType),
		DownloadURL:             rec.DownloadURL,
		FileName:                rec.FileName,
		DownloadDirectory:       rec.DownloadDirectory,
		DestinationDirectory:    rec.DestinationDirectory,
		DataReceived:            rec.DataReceived,
		DataTotal:               rec.DataTotal,
		DownloadStatus:          domain.DownloadStatus(rec.DownloadStatus),
		PlexServerID:            rec.PlexServerID,
		PlexLibraryID:           rec.PlexLibraryID,
		ServerMachineIdentifier: rec.ServerMachineIdentifier,
		CreatedAt:               rec.CreatedAt,
		UpdatedAt:               rec.UpdatedAt,
	}
}

func toRecords(tree *domain.TaskTree) []taskRecord {
	positions := make(map[int]int, tree.Len())
	for _, task := range tree.Tasks() {
		for i, cid := range task.ChildIDs {
			positions[cid] = i
		}
	}

	now := time.Now()
	records := make([]taskRecord, 0, tree.Len())
	for _, task := range tree.Tasks() {
		createdAt := task.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		records = append(records, taskRecord{
			ID:                      task.ID,
			RootID:                  task.RootDownloadTaskID,
			ParentID:                task.ParentID,
			Position:                positions[task.ID],
			Title:                   task.Title,
			MediaType:               string(task.MediaType),
			DownloadURL:             task.DownloadURL,
			FileName:                task.FileName,
			DownloadDirectory:       task.DownloadDirectory,
			DestinationDirectory:    task.DestinationDirectory,
			DataReceived:            task.DataReceived,
			DataTotal:               task.DataTotal,
			DownloadStatus:          string(task.DownloadStatus),
			PlexServerID:            task.PlexServerID,
			PlexLibraryID:           task.PlexLibraryID,
			ServerMachineIdentifier: task.ServerMachineIdentifier,
			CreatedAt:               createdAt,
			UpdatedAt:               now,
		})
	}
	return records
}
