// Package idgen abstracts message id generation for the logic tier.
package idgen

import "github.com/google/uuid"

// MessageIDGenerator produces unique, opaque message ids.
type MessageIDGenerator interface {
	NextID() string
}

// UUIDGenerator generates random UUID string ids.
type UUIDGenerator struct{}

// NewUUIDGenerator returns the default generator.
func NewUUIDGenerator() *UUIDGenerator { return &UUIDGenerator{} }

func (*UUIDGenerator) NextID() string { return uuid.New().String() }
