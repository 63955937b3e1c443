package service

import "fmt"

// ValidationError rejects a malformed request before any store access.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// NotFoundError reports a missing referenced entity.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// OutOfStockError names the offending product and what was available, so
// staff can correct the request instead of blindly retrying.
type OutOfStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested",
		e.ProductName, e.Available, e.Requested)
}
