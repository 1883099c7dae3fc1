package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func nullFloat(v *float64) interface{} {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullableString(s *string) interface{} {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// inClause 產生 col IN ($n, ...) 並把值附加到 args。
func inClause(col string, values []string, args *[]interface{}) string {
	ph := make([]string, 0, len(values))
	for _, v := range values {
		*args = append(*args, v)
		ph = append(ph, fmt.Sprintf("$%d", len(*args)))
	}
	return col + " IN (" + strings.Join(ph, ", ") + ")"
}
