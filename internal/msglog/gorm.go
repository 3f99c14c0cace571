package msglog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-chat-hub/internal/domain"
)

// recordModel is one row of the chat mutation log.
type recordModel struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	Op         string    `gorm:"size:16;not null"`
	MessageID  string    `gorm:"size:64;not null;index"`
	Payload    string    `gorm:"type:text"`
	RecordedAt time.Time `gorm:"not null"`
}

func (recordModel) TableName() string {
	return "chat_log_records"
}

const replayBatchSize = 500

// GormLog stores records in a SQL table through GORM.
type GormLog struct {
	db *gorm.DB
}

// NewGormLog wraps db. When migrate is set the table is created or updated.
func NewGormLog(db *gorm.DB, migrate bool) (*GormLog, error) {
	if migrate {
		if err := db.AutoMigrate(&recordModel{}); err != nil {
			return nil, fmt.Errorf("failed to migrate chat log table: %w", err)
		}
	}
	return &GormLog{db: db}, nil
}

func toModel(rec Record) (*recordModel, error) {
	m := &recordModel{
		Op:         string(rec.Op),
		MessageID:  rec.ID,
		RecordedAt: rec.RecordedAt,
	}
	if rec.Message != nil {
		payload, err := json.Marshal(rec.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		m.Payload = string(payload)
	}
	return m, nil
}

func fromModel(m *recordModel) (Record, error) {
	rec := Record{Op: Op(m.Op), ID: m.MessageID, RecordedAt: m.RecordedAt}
	if m.Payload != "" {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal record %d: %w", m.Seq, err)
		}
		rec.Message = &msg
	}
	return rec, nil
}

func (l *GormLog) Append(ctx context.Context, rec Record) error {
	m, err := toModel(rec)
	if err != nil {
		return err
	}
	if err := l.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to insert log record: %w", err)
	}
	return nil
}

func (l *GormLog) Replay(ctx context.Context, fn func(Record) error) error {
	var rows []recordModel
	result := l.db.WithContext(ctx).FindInBatches(&rows, replayBatchSize, func(tx *gorm.DB, batch int) error {
		for i := range rows {
			rec, err := fromModel(&rows[i])
			if err != nil {
				return err
			}
			if err := rec.Validate(); err != nil {
				return fmt.Errorf("invalid log record %d: %w", rows[i].Seq, err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if result.Error != nil {
		return fmt.Errorf("failed to replay chat log: %w", result.Error)
	}
	return nil
}

// Compact swaps the table contents for the live set in one transaction.
func (l *GormLog) Compact(ctx context.Context, live []domain.ChatMessage) error {
	records := appendRecords(live, time.Now().UTC())
	models := make([]*recordModel, 0, len(records))
	for _, rec := range records {
		m, err := toModel(rec)
		if err != nil {
			return err
		}
		models = append(models, m)
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&recordModel{}).Error; err != nil {
			return fmt.Errorf("failed to clear chat log: %w", err)
		}
		if len(models) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(models, replayBatchSize).Error; err != nil {
			return fmt.Errorf("failed to write compacted chat log: %w", err)
		}
		return nil
	})
}

func (l *GormLog) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
