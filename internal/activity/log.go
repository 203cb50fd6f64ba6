// Package activity 持久化面向用户的活动日志。
package activity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"trades-companion/internal/store"
)

// Entry 为一条活动记录。
type Entry struct {
	ID        int64     `json:"id"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"createdAt"`
}

// Log 负责活动日志的写入与查询。
type Log struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewLog 初始化活动日志，创建所需表结构。
func NewLog(store *store.Store, logger *zap.Logger) (*Log, error) {
	if store == nil {
		return nil, fmt.Errorf("activity: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Log{
		db:     store.DB(),
		logger: logger,
		now:    time.Now,
	}

	if err := l.initSchema(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Log) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS activity_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	line TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`
	if _, err := l.db.Exec(stmt); err != nil {
		return fmt.Errorf("activity: 初始化表失败: %w", err)
	}
	return nil
}

// Append 追加一行活动记录。
func (l *Log) Append(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return fmt.Errorf("activity: 记录内容不能为空")
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO activity_log (line, created_at) VALUES (?, ?)`,
		line, l.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("activity: 写入记录失败: %w", err)
	}

	l.logger.Debug("活动记录", zap.String("line", line))
	return nil
}

// List 返回最近的活动记录，新记录在前。
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, line, created_at FROM activity_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("activity: 查询记录失败: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			created string
		)
		if scanErr := rows.Scan(&e.ID, &e.Line, &created); scanErr != nil {
			return nil, fmt.Errorf("activity: 解析记录失败: %w", scanErr)
		}
		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			l.logger.Warn("活动记录时间格式异常", zap.Int64("id", e.ID), zap.String("created_at", created))
		}
		e.CreatedAt = ts
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity: 读取记录失败: %w", err)
	}

	return entries, nil
}
