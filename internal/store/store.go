// Package store archives finished rounds in Postgres. Live rooms never read
// from it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/typerace-backend/internal/engine"
)

// ErrDuplicate means the round was already archived.
var ErrDuplicate = errors.New("round already archived")

const uniqueViolation = "23505"

type Standing struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score int     `json:"score"`
	WPM   float64 `json:"wpm"`
}

// RoundRecord is unique per session and round. A room id can be emptied and
// reused, so (room_id, round) alone repeats.
type RoundRecord struct {
	ID         uint64     `gorm:"primaryKey" json:"-"`
	RoomID     string     `gorm:"size:64;not null;index" json:"roomId"`
	SessionID  string     `gorm:"size:36;not null;uniqueIndex:idx_round_results_session_round" json:"sessionId"`
	Round      int        `gorm:"not null;uniqueIndex:idx_round_results_session_round" json:"round"`
	Text       string     `gorm:"type:text;not null" json:"text"`
	Standings  []Standing `gorm:"type:jsonb;serializer:json;not null" json:"standings"`
	FinishedAt time.Time  `gorm:"not null;index" json:"finishedAt"`
}

func (RoundRecord) TableName() string { return "round_results" }

// NewRoundRecord flattens a round result for storage.
func NewRoundRecord(res engine.Result) RoundRecord {
	return RoundRecord{
		RoomID:    res.RoomID,
		SessionID: res.SessionID,
		Round:     res.Round,
		Text:      res.Text,
		Standings: lo.Map(res.Players, func(p engine.Player, _ int) Standing {
			return Standing{ID: p.ID, Name: p.Name, Score: p.Score, WPM: p.WPM}
		}),
		FinishedAt: res.FinishedAt.UTC(),
	}
}

type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// Open connects through pgx and migrates the schema.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database url is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	sqlDB := stdlib.OpenDB(*connCfg)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&RoundRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Named("store").Info("results archive ready",
		zap.String("host", connCfg.Host), zap.String("database", connCfg.Database))
	return &Store{db: db, sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Insert writes one round. A second write for the same session and round
// returns ErrDuplicate.
func (s *Store) Insert(ctx context.Context, rec RoundRecord) error {
	err := s.db.WithContext(ctx).Create(&rec).Error
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert round %s/%s/%d: %w", rec.RoomID, rec.SessionID, rec.Round, err)
	}
	return nil
}

// Recent returns up to limit archived rounds for roomID, newest first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]RoundRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []RoundRecord
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("finished_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("recent rounds for %s: %w", roomID, err)
	}
	return out, nil
}
