package services

import (
	"github.com/pkg/errors"
	"github.com/zeebo/errs"
	"gorm.io/gorm"
)

// Error classes returned by the trace store. Test membership with Has.
var (
	// ErrValidation: the request was rejected before any side effect.
	ErrValidation = errs.Class("validation")
	// ErrNotFound: the trace does not exist or the viewer may not know it does.
	ErrNotFound = errs.Class("not found")
	// ErrForbidden: the trace exists but the viewer may not change it.
	ErrForbidden = errs.Class("forbidden")
	// ErrStorage: blob or metadata I/O failed; cleanup has already run.
	ErrStorage = errs.Class("storage failure")
	// ErrUserNotFound: a listing scope named a user that does not exist.
	ErrUserNotFound = errs.Class("user not found")
)

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
