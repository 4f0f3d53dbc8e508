package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNameCollision = errors.New("destination name already reserved")
	ErrLedgerClosed  = errors.New("ledger is closed")
)
