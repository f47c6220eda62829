package tool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	storagemysql "AgentForge/internal/storage/mysql"
)

// MySQLSnapshot 将注册表状态写穿到 MySQL，每个工具一行，计数单独一行。
type MySQLSnapshot struct {
	db *sql.DB
}

// NewMySQLSnapshot 建立连接并确保表结构存在。
func NewMySQLSnapshot(ctx context.Context, cfg storagemysql.Config) (*MySQLSnapshot, error) {
	db, err := storagemysql.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := storagemysql.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &MySQLSnapshot{db: db}, nil
}

// Load 读取全部工具记录与计数。空库返回 nil 状态。
func (s *MySQLSnapshot) Load(ctx context.Context) (*State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description, origin, backend, query_text,
        tool_type, category, blueprint, created_at, last_used_at, usage_count
        FROM tool_records ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("查询工具记录失败: %w", err)
	}
	defer rows.Close()

	state := &State{}
	for rows.Next() {
		var (
			record    Record
			desc      sql.NullString
			query     sql.NullString
			blueprint sql.NullString
		)
		if err := rows.Scan(&record.Name, &desc, &record.Origin, &record.Backend, &query,
			&record.ToolType, &record.Category, &blueprint,
			&record.CreatedAt, &record.LastUsedAt, &record.UsageCount); err != nil {
			return nil, fmt.Errorf("解析工具记录失败: %w", err)
		}
		record.Description = desc.String
		record.Query = query.String
		if blueprint.Valid && blueprint.String != "" {
			var bp Blueprint
			if err := json.Unmarshal([]byte(blueprint.String), &bp); err != nil {
				return nil, fmt.Errorf("解析工具蓝图失败: %w", err)
			}
			record.Blueprint = &bp
		}
		state.Tools = append(state.Tools, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历工具记录失败: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT total_queries, total_generated, total_failures, resets_performed
        FROM registry_counters WHERE id = 1`).Scan(
		&state.Counters.TotalQueries,
		&state.Counters.TotalGenerated,
		&state.Counters.TotalFailures,
		&state.Counters.ResetsPerformed,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("查询注册表计数失败: %w", err)
	}

	if len(state.Tools) == 0 && state.Counters == (Counters{}) {
		return nil, nil
	}
	return state, nil
}

// Save 以单个事务替换全部工具行并更新计数。
func (s *MySQLSnapshot) Save(ctx context.Context, state *State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启快照事务失败: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_records`); err != nil {
		tx.Rollback()
		return fmt.Errorf("清理旧工具记录失败: %w", err)
	}

	for _, record := range state.Tools {
		var blueprint any
		if record.Blueprint != nil {
			encoded, err := json.Marshal(record.Blueprint)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("序列化工具蓝图失败: %w", err)
			}
			blueprint = string(encoded)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO tool_records
            (name, description, origin, backend, query_text, tool_type, category, blueprint,
             created_at, last_used_at, usage_count)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			record.Name, record.Description, string(record.Origin), string(record.Backend),
			record.Query, record.ToolType, record.Category, blueprint,
			record.CreatedAt, record.LastUsedAt, record.UsageCount); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入工具记录 %s 失败: %w", record.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE registry_counters SET
        total_queries = ?, total_generated = ?, total_failures = ?, resets_performed = ?
        WHERE id = 1`,
		state.Counters.TotalQueries, state.Counters.TotalGenerated,
		state.Counters.TotalFailures, state.Counters.ResetsPerformed); err != nil {
		tx.Rollback()
		return fmt.Errorf("更新注册表计数失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交快照事务失败: %w", err)
	}
	return nil
}

// Close 关闭底层连接池。
func (s *MySQLSnapshot) Close() error {
	return s.db.Close()
}
