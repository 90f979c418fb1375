package model

// EventResourceChange names the server-sent event announcing committed writes.
const EventResourceChange = "resource-change"

// ChangeOp is the write that produced a Change.
type ChangeOp string

const (
	ChangeCreated ChangeOp = "created"
	ChangeUpdated ChangeOp = "updated"
	ChangeDeleted ChangeOp = "deleted"
)

// Change announces records of one kind that were written by a successful request.
type Change struct {
	Kind Kind     `json:"kind"`
	Op   ChangeOp `json:"op"`
	IDs  []uint64 `json:"ids"`
}
