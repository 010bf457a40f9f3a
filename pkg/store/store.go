// Package store 本地状态：命令去重记录和未送达响应的死信队列
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DeadLetter 重试耗尽后暂存的出站写入
type DeadLetter struct {
	ID        int64
	Path      string
	Payload   []byte
	LastError string
	CreatedAt int64
}

// Store 包装 SQLite 连接
type Store struct {
	db *sql.DB
}

// Open 创建或打开数据库，":memory:" 用于测试
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen_commands (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		payload BLOB NOT NULL,
		last_error TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_seen_commands_seen_at ON seen_commands(seen_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// MarkSeen 记录命令ID，首次出现时返回 true
func (s *Store) MarkSeen(id, action string) (bool, error) {
	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO seen_commands (id, action, seen_at)
		VALUES (?, ?, ?)
	`, id, action, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PruneSeen 删除早于 before 的去重记录
func (s *Store) PruneSeen(before time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM seen_commands WHERE seen_at < ?", before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// AddDeadLetter 暂存一条未送达的写入
func (s *Store) AddDeadLetter(path string, payload []byte, lastErr string) error {
	_, err := s.db.Exec(`
		INSERT INTO dead_letters (path, payload, last_error, created_at)
		VALUES (?, ?, ?, ?)
	`, path, payload, lastErr, time.Now().UnixMilli())
	return err
}

// DeadLetters 按写入顺序返回最多 limit 条死信
func (s *Store) DeadLetters(limit int) ([]*DeadLetter, error) {
	rows, err := s.db.Query(`
		SELECT id, path, payload, COALESCE(last_error, ''), created_at
		FROM dead_letters ORDER BY id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		l := &DeadLetter{}
		if err := rows.Scan(&l.ID, &l.Path, &l.Payload, &l.LastError, &l.CreatedAt); err != nil {
			return nil, err
		}
		letters = append(letters, l)
	}
	return letters, rows.Err()
}

// DeleteDeadLetter 删除已重放的死信
func (s *Store) DeleteDeadLetter(id int64) error {
	_, err := s.db.Exec("DELETE FROM dead_letters WHERE id = ?", id)
	return err
}

// CountDeadLetters 死信数量
func (s *Store) CountDeadLetters() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM dead_letters").Scan(&n)
	return n, err
}
