package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xela07ax/auditseq/internal/audit"
)

// auditColumns — порядок колонок audit_logs для вставки и выборки.
const auditColumns = "id, seq, actor_id, action, timestamp, details, service_name, entity_type, entity_id, session_id, request_id, ip_address, result"

const auditNumFields = 13

// AuditRepo — append-only хранилище записей аудита. Реализует audit.Sink и audit.Reader.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// WriteBatch пишет всю пачку одним INSERT. Вставка атомарна: либо вся пачка, либо ничего.
func (r *AuditRepo) WriteBatch(ctx context.Context, records []audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	vals := make([]interface{}, 0, len(records)*auditNumFields)

	// Динамически строим запрос для пакетной вставки
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(")
		for j := 1; j <= auditNumFields; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*auditNumFields+j)
		}
		sb.WriteString(")")

		vals = append(vals,
			rec.ID, int64(rec.Seq), rec.ActorID, rec.Action, rec.Timestamp, rec.Details, rec.ServiceName,
			nullString(rec.EntityType), nullString(rec.EntityID), nullString(rec.SessionID),
			nullString(rec.RequestID), nullString(rec.IPAddress), string(rec.Result),
		)
	}

	query := fmt.Sprintf("INSERT INTO audit_logs (%s) VALUES %s", auditColumns, sb.String())

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to insert audit batch: %w", err)
	}
	return nil
}

// Query — выборка по фильтру, новые первыми.
func (r *AuditRepo) Query(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	where, args := buildAuditWhere(f)
	args = append(args, f.EffectiveLimit())

	query := fmt.Sprintf("SELECT %s FROM audit_logs%s ORDER BY timestamp DESC, seq DESC LIMIT $%d",
		auditColumns, where, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit logs: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]audit.Record, 0)

	for rows.Next() {
		var rec audit.Record
		var seq int64
		var result string
		var entityType, entityID, sessionID, requestID, ip sql.NullString

		err := rows.Scan(
			&rec.ID, &seq, &rec.ActorID, &rec.Action, &rec.Timestamp, &rec.Details, &rec.ServiceName,
			&entityType, &entityID, &sessionID, &requestID, &ip, &result,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit record: %w", err)
		}

		rec.Seq = uint64(seq)
		rec.Result = audit.Result(result)
		rec.EntityType = entityType.String
		rec.EntityID = entityID.String
		rec.SessionID = sessionID.String
		rec.RequestID = requestID.String
		rec.IPAddress = ip.String

		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to iterate audit logs: %w", err)
	}

	return results, nil
}

// Count — сколько записей подходит под фильтр (Limit игнорируется).
func (r *AuditRepo) Count(ctx context.Context, f audit.Filter) (int64, error) {
	where, args := buildAuditWhere(f)

	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: failed to count audit logs: %w", err)
	}
	return n, nil
}

// Ping проверяет доступность базы при старте
func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func buildAuditWhere(f audit.Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.ServiceName != "" {
		add("service_name = $%d", f.ServiceName)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if !f.From.IsZero() {
		add("timestamp >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("timestamp < $%d", f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ audit.Sink   = (*AuditRepo)(nil)
	_ audit.Reader = (*AuditRepo)(nil)
)
