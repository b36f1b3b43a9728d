package apperrors

import "errors"

var (
	ErrNotFound                  = errors.New("not found")
	ErrConflict                  = errors.New("conflict")
	ErrDatasourceInactive        = errors.New("datasource is not active")
	ErrUnsupportedDatasourceType = errors.New("unsupported datasource type")
	ErrMissingLLMCredential      = errors.New("language model credential is not configured")
	ErrNoSQLGenerated            = errors.New("no SQL could be generated for the question")
	ErrInvalidSchedule           = errors.New("invalid refresh schedule")
	ErrCredentialsKeyMismatch    = errors.New("datasource credentials were encrypted with a different key")
)
