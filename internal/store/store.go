package store

import (
	"context"
	"encoding/json"

	"github.com/petmerch/api/internal/model"
)

// MutateFunc edits a job in place. Returning changed=false skips the write.
type MutateFunc func(job *model.DesignJob) (changed bool, err error)

// JobStore persists design jobs. Patch is atomic per job id, so readers never
// observe a partially applied update.
type JobStore interface {
	Put(ctx context.Context, job *model.DesignJob) error
	Get(ctx context.Context, id string) (*model.DesignJob, error)
	Patch(ctx context.Context, id string, fn MutateFunc) (*model.DesignJob, error)
	Ping(ctx context.Context) error
	Close() error
}

func jobNotFound(id string) error {
	return &model.NotFoundError{Resource: "design", ID: id}
}

func sessionNotFound(id string) error {
	return &model.NotFoundError{Resource: "checkout session", ID: id}
}

func storageErr(op string, err error) error {
	return &model.StorageError{Op: op, Err: err}
}

// clone deep-copies v through its JSON form
func clone[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
