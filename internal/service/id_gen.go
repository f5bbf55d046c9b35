package service

import "github.com/google/uuid"

type IDGenerator interface {
	NewID() (string, error)
}

type RandomIDGenerator struct {
	prefix string
}

func NewRandomIDGenerator(prefix string) *RandomIDGenerator {
	return &RandomIDGenerator{prefix: prefix}
}

// NewID returns a random run identifier, optionally prefixed.
func (g *RandomIDGenerator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return g.prefix + id.String(), nil
}
