package farm

import "errors"

var (
	ErrPlayerNotFound       = errors.New("player not found")
	ErrPlayerExists         = errors.New("player with this id already exists")
	ErrProductNotFound      = errors.New("product not found")
	ErrHouseNotActive       = errors.New("house not active or not found")
	ErrHouseIDRequired      = errors.New("house.id required")
	ErrItemsRequired        = errors.New("houses must have 'items' array")
	ErrUnknownField         = errors.New("unknown field")
	ErrInvalidFieldValue    = errors.New("invalid field value")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, try again")
)
