package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	xerrors "AgentForge/internal/errors"
	storagemysql "AgentForge/internal/storage/mysql"
)

// MySQLStore 将任务状态持久化到 MySQL。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接并确保表结构存在。
func NewMySQLStore(ctx context.Context, cfg storagemysql.Config) (*MySQLStore, error) {
	db, err := storagemysql.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := storagemysql.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &MySQLStore{db: db}, nil
}

// Create 实现 Store 接口。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil || task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO query_tasks
        (id, query_text, status, attempts, max_attempts, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Query, string(task.Status), task.Attempts, task.MaxAttempts,
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrTaskConflict
		}
		return fmt.Errorf("写入任务失败: %w", err)
	}
	return nil
}

// Get 返回任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM query_tasks WHERE id = ?`, id)
	return scanTask(row)
}

// Claim 在事务内将任务置为运行中。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectColumns+` FROM query_tasks WHERE id = ? FOR UPDATE`, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case StatusSucceeded:
		return task, ErrTaskCompleted
	case StatusRunning:
		return task, ErrTaskConflict
	}
	if task.Attempts >= task.MaxAttempts {
		return task, ErrTaskExhausted
	}

	task.Status = StatusRunning
	task.Attempts++
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = time.Now().Unix()

	if _, err := tx.ExecContext(ctx, `UPDATE query_tasks
        SET status = ?, attempts = ?, last_error = '', updated_at = ? WHERE id = ?`,
		string(task.Status), task.Attempts, task.UpdatedAt, task.ID); err != nil {
		return nil, fmt.Errorf("更新任务状态失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}
	return task, nil
}

// MarkSucceeded 记录处理结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result Result) error {
	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return fmt.Errorf("序列化任务结果失败: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE query_tasks
        SET status = ?, tool_name = ?, tool_origin = ?, result_payload = ?, result_message = ?,
            last_error = '', updated_at = ?
        WHERE id = ?`,
		string(StatusSucceeded), result.Tool, result.Origin, string(payload), result.Message,
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("更新任务结果失败: %w", err)
	}
	return requireRow(res)
}

// MarkFailed 标记任务失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	status := StatusPending
	if terminal {
		status = StatusFailed
	}
	res, err := s.db.ExecContext(ctx, `UPDATE query_tasks
        SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), fmt.Sprintf("[%s] %s", code, lastError), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("更新任务失败状态出错: %w", err)
	}
	return requireRow(res)
}

// List 返回按创建时间倒序的最近任务。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM query_tasks ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询任务列表失败: %w", err)
	}
	defer rows.Close()

	var results []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历任务列表失败: %w", err)
	}
	return results, nil
}

// Stats 统计各状态任务数量。
func (s *MySQLStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM query_tasks GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("统计任务失败: %w", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("解析任务统计失败: %w", err)
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusSucceeded:
			stats.Succeeded = count
		case StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("遍历任务统计失败: %w", err)
	}
	return stats, nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, query_text, status, attempts, max_attempts,
    tool_name, tool_origin, result_payload, result_message, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task          Task
		status        string
		toolName      sql.NullString
		toolOrigin    sql.NullString
		resultPayload sql.NullString
		resultMessage sql.NullString
		lastError     sql.NullString
	)
	err := row.Scan(&task.ID, &task.Query, &status, &task.Attempts, &task.MaxAttempts,
		&toolName, &toolOrigin, &resultPayload, &resultMessage, &lastError,
		&task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("解析任务记录失败: %w", err)
	}

	task.Status = Status(status)
	task.LastError = lastError.String
	if toolName.String != "" || resultMessage.String != "" {
		result := &Result{
			Tool:    toolName.String,
			Origin:  toolOrigin.String,
			Message: resultMessage.String,
		}
		if resultPayload.Valid && resultPayload.String != "" && resultPayload.String != "null" {
			var payload any
			if err := json.Unmarshal([]byte(resultPayload.String), &payload); err == nil {
				result.Payload = payload
			}
		}
		task.Result = result
	}
	return &task, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取受影响行数失败: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysqldriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
