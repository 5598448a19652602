package postgres

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

// listQuery extends a SELECT whose WHERE clause is already open with the
// window, ordering and paging of a domain.ListOpts.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func (q *listQuery) bind(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// appendListOpts filters and sorts on column, newest first with id as the
// tiebreak. Zero Limit and Offset are left out.
func appendListOpts(query string, args []any, opts domain.ListOpts, column string) (string, []any) {
	q := listQuery{args: args}
	q.sb.WriteString(query)

	if opts.Since != nil {
		q.sb.WriteString(" AND " + column + " >= " + q.bind(*opts.Since))
	}
	if opts.Until != nil {
		q.sb.WriteString(" AND " + column + " <= " + q.bind(*opts.Until))
	}
	q.sb.WriteString(" ORDER BY " + column + " DESC, id DESC")
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.bind(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.bind(opts.Offset))
	}
	return q.sb.String(), q.args
}
