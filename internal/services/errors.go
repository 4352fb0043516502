// Package services defines the business logic for tenant-scoped policy
// administration and the cross-tenant aggregation used by the super-admin
// role. This file centralizes common service-level error values so that they
// can be consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer, never here.
package services

import "errors"

var (
	// ErrPolicyNotFound indicates that the requested policy does not exist
	// in the resolved tenant's database.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrPolicyTypeNotFound indicates an unknown policy-type id.
	ErrPolicyTypeNotFound = errors.New("policy type not found")

	// ErrInvalidPagination is returned for malformed pagination parameters
	// (pageSize < 1). Unrecognized sort columns are NOT an error; they are
	// normalized by the repository layer.
	ErrInvalidPagination = errors.New("page size must be at least 1")

	// ErrInvalidPolicy is returned when a create/update payload is missing
	// required fields (name, policy type).
	ErrInvalidPolicy = errors.New("policy name and policy type are required")
)
