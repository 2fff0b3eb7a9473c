package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/mevbot/internal/domain"
)

// listQuery appends the time range, ordering and pagination of opts to a
// SELECT that already ends in a WHERE clause.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *listQuery) where(cond string, v any) {
	fmt.Fprintf(&q.sb, " AND "+cond, q.arg(v))
}

func (q *listQuery) apply(col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		q.where(col+" >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.where(col+" <= %s", *opts.Until)
	}
	fmt.Fprintf(&q.sb, " ORDER BY %s DESC", col)
	if opts.Limit > 0 {
		fmt.Fprintf(&q.sb, " LIMIT %s", q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&q.sb, " OFFSET %s", q.arg(opts.Offset))
	}
	return q.sb.String(), q.args
}
