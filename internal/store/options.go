package store

import (
	"gorm.io/gorm"
)

type JobQueryFilter struct {
	QueryFn []func(*gorm.DB) *gorm.DB
}

type JobQueryOptions struct {
	QueryFn []func(*gorm.DB) *gorm.DB
}

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{}
}

func NewJobQueryOptions() *JobQueryOptions {
	return &JobQueryOptions{}
}

// Filter by job type
func (f *JobQueryFilter) WithType(jobType string) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("type = ?", jobType)
	})
	return f
}

// Filter by status
func (f *JobQueryFilter) WithStatus(status string) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return f
}

// Filter by queue
func (f *JobQueryFilter) WithQueue(queue string) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("queue = ?", queue)
	})
	return f
}

// Limit results
func (o *JobQueryOptions) WithLimit(limit int) *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

// Offset results
func (o *JobQueryOptions) WithOffset(offset int) *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Offset(offset)
	})
	return o
}

type DeadLetterQueryOptions struct {
	QueryFn []func(*gorm.DB) *gorm.DB
}

func NewDeadLetterQueryOptions() *DeadLetterQueryOptions {
	return &DeadLetterQueryOptions{}
}

func (o *DeadLetterQueryOptions) WithLimit(limit int) *DeadLetterQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

func (o *DeadLetterQueryOptions) WithOffset(offset int) *DeadLetterQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Offset(offset)
	})
	return o
}
