package client

import "github.com/google/uuid"

var clientID uuid.UUID

// ID identifies this correlatest process. It is stamped into log records, Hazelcast client names
// and the names of the data structures scenarios create.
func ID() uuid.UUID {
	if clientID == uuid.Nil {
		clientID = uuid.New()
	}
	return clientID
}
