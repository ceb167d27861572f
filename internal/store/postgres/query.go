package postgres

import (
	"github.com/doug-martin/goqu/v9"

	"github.com/crashvault/crashvault/internal/apperrors"
	"github.com/crashvault/crashvault/internal/service"
)

// applyQueryParams validates q.Sort's columns against allowed and applies
// filter/sort/range to ds. It is shared by every List* repository method so
// the column allow-list (spec §4.2) is enforced in exactly one place.
func applyQueryParams(ds *goqu.SelectDataset, q service.QueryParams, allowed map[string]struct{}, filterColumn string) (*goqu.SelectDataset, error) {
	if q.Filter != "" && filterColumn != "" {
		ds = ds.Where(goqu.I(filterColumn).ILike("%" + q.Filter + "%"))
	}

	for _, sc := range q.Sort {
		if _, ok := allowed[sc.Column]; !ok {
			return nil, apperrors.ErrInvalidColumn
		}
		col := goqu.I(sc.Column)
		if sc.Direction == service.SortDescending {
			ds = ds.OrderAppend(col.Desc())
		} else {
			ds = ds.OrderAppend(col.Asc())
		}
	}

	if q.Range != nil {
		ds = ds.Offset(uint(q.Range.Offset)).Limit(uint(q.Range.Limit))
	}

	return ds, nil
}
