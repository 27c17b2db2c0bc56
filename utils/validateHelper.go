package utils

import (
	"context"
	"reflect"

	"bitbucket.org/mmdatafocus/erp_backend/config"
)

// ValidateResourceId checks that a row with the given id exists for the
// business; returns ErrorRecordNotFound otherwise.
func ValidateResourceId[T any](ctx context.Context, businessId string, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, businessId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

func ValidateUnique[T any](ctx context.Context, businessId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if exceptId == nil || reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, businessId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, businessId, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return NewConflictError("Duplicate", "duplicate %s", column)
	}
	return nil
}

// ResourceCountWhere counts records using WHERE business_id = ? AND $condition.
// business_id can be blank for admin callers.
func ResourceCountWhere[T any](ctx context.Context, businessId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if businessId != "" {
		dbCtx.Where("business_id = ?", businessId)
	}
	dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FetchModel loads one row by id scoped to the business.
func FetchModel[T any](ctx context.Context, businessId string, id interface{}) (*T, error) {
	var model T
	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	if businessId != "" {
		dbCtx = dbCtx.Where("business_id = ?", businessId)
	}
	if err := dbCtx.Where("id = ?", id).First(&model).Error; err != nil {
		return nil, ErrorRecordNotFound
	}
	return &model, nil
}
