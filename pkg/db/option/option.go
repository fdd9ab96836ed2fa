package option

import (
	"strings"

	"github.com/smallbiznis/fxquote/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

// ApplyPagination pages by ascending id and fetches one extra row so callers
// can tell whether another page exists.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if token := strings.TrimSpace(p.PageToken); token != "" {
			cursor, err := pagination.DecodeCursor(token)
			if err != nil {
				_ = db.AddError(err)
				return db
			}
			db = db.Where("id > ?", cursor.ID)
		}
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}}).Limit(p.Size() + 1)
	})
}

type QuerySortBy struct {
	Field string
	Desc  bool
	Allow map[string]bool
}

// WithSortBy orders by Field when it is in the allow list.
func WithSortBy(s QuerySortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(s.Field)
		if field == "" || !s.Allow[field] {
			return db
		}
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: field}, Desc: s.Desc})
	})
}

func WithWhere(query string, args ...any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}
