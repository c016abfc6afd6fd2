package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/pusher"
)

const defaultLogLimit = 100

func (s *Store) AppendLog(ctx context.Context, entry pusher.LogEntry) (int64, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var metadata any
	if entry.Metadata != nil {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal log metadata: %w", err)
		}
		metadata = string(b)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (level, message, source, client_id, user_agent, ip_address, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Level, entry.Message, entry.Source,
		nullStr(entry.ClientID), nullStr(entry.UserAgent), nullStr(entry.IPAddress),
		metadata, entry.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert log entry: %w", err)
	}
	return res.LastInsertId()
}

// QueryLogs returns matching entries newest-first.
func (s *Store) QueryLogs(ctx context.Context, filter pusher.LogFilter) ([]pusher.LogEntry, error) {
	query := "SELECT id, level, message, source, client_id, user_agent, ip_address, metadata, timestamp FROM logs WHERE 1=1"
	var args []any

	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, filter.Level)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.ClientID != "" {
		query += " AND client_id = ?"
		args = append(args, filter.ClientID)
	}
	if filter.Hours > 0 {
		cutoff := time.Now().UTC().Add(-time.Duration(filter.Hours) * time.Hour)
		query += " AND timestamp >= ?"
		args = append(args, cutoff.Format(time.RFC3339Nano))
	}
	if filter.Search != "" {
		query += " AND message LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]pusher.LogEntry, 0)
	for rows.Next() {
		var (
			entry     pusher.LogEntry
			clientID  sql.NullString
			userAgent sql.NullString
			ipAddress sql.NullString
			metadata  sql.NullString
			timestamp string
		)
		if err := rows.Scan(&entry.ID, &entry.Level, &entry.Message, &entry.Source,
			&clientID, &userAgent, &ipAddress, &metadata, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entry.ClientID = clientID.String
		entry.UserAgent = userAgent.String
		entry.IPAddress = ipAddress.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				// A corrupt metadata blob should not hide the rest of the row.
				s.logger.Warn("Skipping corrupt log metadata", "log_id", entry.ID, "err", err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			entry.Timestamp = t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
