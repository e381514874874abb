package foliage

import "github.com/aryanshm/foliage/internal/errs"

// The engine's error taxonomy. Every failure an Engine method returns wraps
// exactly one of these; callers branch with errors.Is.
var (
	ErrValidation   = errs.ErrValidation
	ErrEncrypt      = errs.ErrEncrypt
	ErrDecrypt      = errs.ErrDecrypt
	ErrPermission   = errs.ErrPermission
	ErrNotFound     = errs.ErrNotFound
	ErrNetwork      = errs.ErrNetwork
	ErrAuthRequired = errs.ErrAuthRequired
	ErrNotReady     = errs.ErrNotReady
)
