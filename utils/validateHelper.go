package utils

import (
	"context"

	"bitbucket.org/mercavio/retail_backend/config"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func init() {
	// same tag gin's binding reads, so direct callers get identical checks
	validate.SetTagName("binding")
}

// ValidateStruct runs the shared validator instance over an input struct.
// HTTP inputs already pass through gin's binding; this covers callers that
// construct inputs directly (jobs, tests, internal workflows).
func ValidateStruct(input interface{}) error {
	return validate.Struct(input)
}

// check if id exists, return RecordNotFound error otherwise
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// check if ALL ids exist, return RecordNotFound error otherwise
func ValidateResourcesId[M any, ID comparable](ctx context.Context, ids []ID) error {
	unqIds := UniqueSlice(ids)

	count, err := ResourceCountWhere[M](ctx, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return ErrorRecordNotFound
	}
	return nil
}

// count records matching the condition
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&model).Where(condition, value...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
