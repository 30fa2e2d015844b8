// Package source turns files, feeds and topics into articles for the pipeline.
package source

import (
	"context"
	"errors"
	"fmt"

	"horse.fit/flashpoint/internal/model"
)

// Source yields one batch worth of articles.
type Source interface {
	Name() string
	Articles(ctx context.Context) ([]model.Article, error)
}

// RecordError describes one input record that failed validation.
type RecordError struct {
	Origin string
	Index  int
	Err    error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s record %d: %v", e.Origin, e.Index, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// Collect reads every source in order. A failing source does not stop the others; the joined error
// is returned with whatever was read.
func Collect(ctx context.Context, sources ...Source) ([]model.Article, error) {
	var (
		out  []model.Article
		errs []error
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		articles, err := src.Articles(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
		out = append(out, articles...)
	}
	return out, errors.Join(errs...)
}
