package repo

import (
	"context"

	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
	"gorm.io/gorm"
)

// Base is held by the submission, notice and directory repositories.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB scopes the handle to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// WithTx rebinds the base to a transaction handle. A nil tx keeps the
// current connection.
func (b Base) WithTx(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// Storage wraps a persistence failure so callers can tell it apart from
// validation or registry errors. nil stays nil.
func Storage(err error, op string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStorage {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeStorage, err, op)
}
