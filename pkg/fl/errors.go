package fl

import "errors"

var (
	ErrInsufficientClients = errors.New("insufficient available clients")
	ErrTimeout             = errors.New("client did not respond before the round deadline")
	ErrTrainingError       = errors.New("client reported a training failure")
	ErrNoValidUpdates      = errors.New("no valid updates to aggregate")
	ErrShapeMismatch       = errors.New("update shape does not match the global model")
	ErrInvalidParameters   = errors.New("invalid parameter set")
	ErrInvalidConfig       = errors.New("invalid training configuration")
	ErrOverflow            = errors.New("sample count overflow during aggregation")
)
