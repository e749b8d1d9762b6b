package store

import (
	"fmt"
	"strings"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

const baseAttemptsSelect = `SELECT id, interval_id, recipient_id, recipient_kind, backend,
	message, sent_at, success, error
FROM notification_attempts`

const countAttemptsSelect = "SELECT COUNT(*) FROM notification_attempts"

// ToSQL builds the WHERE clause, ORDER BY, LIMIT, and OFFSET for an attempt
// query. It returns two SQL strings (one for the data query, one for the
// count query) and the positional parameters.
func (q *AttemptQuery) ToSQL() (dataSQL, countSQL string, args []any) {
	var conditions []string
	paramIdx := 1

	if q.IntervalID != nil {
		conditions = append(conditions, fmt.Sprintf("interval_id = $%d", paramIdx))
		args = append(args, *q.IntervalID)
		paramIdx++
	}

	if q.RecipientID != nil {
		conditions = append(conditions, fmt.Sprintf("recipient_id = $%d", paramIdx))
		args = append(args, *q.RecipientID)
		paramIdx++
	}

	if q.Backend != nil {
		conditions = append(conditions, fmt.Sprintf("backend = $%d", paramIdx))
		args = append(args, *q.Backend)
		paramIdx++
	}

	if q.Success != nil {
		conditions = append(conditions, fmt.Sprintf("success = $%d", paramIdx))
		args = append(args, *q.Success)
		paramIdx++
	}

	if q.Since != nil {
		conditions = append(conditions, fmt.Sprintf("sent_at >= $%d", paramIdx))
		args = append(args, *q.Since)
		paramIdx++
	}

	var whereClause string
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	dataSQL = fmt.Sprintf(
		"%s%s ORDER BY sent_at DESC LIMIT %d OFFSET %d",
		baseAttemptsSelect, whereClause, limit, offset,
	)
	countSQL = countAttemptsSelect + whereClause

	return dataSQL, countSQL, args
}
