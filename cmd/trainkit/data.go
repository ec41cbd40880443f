package main

import (
	"fmt"

	"github.com/born-ml/trainkit/internal/config"
	"github.com/born-ml/trainkit/internal/dataset"
)

// loadData reads the configured source and splits off the validation share.
// validation is nil when no split is configured.
func loadData(cfg config.Data) (train, validation *dataset.Dataset, err error) {
	var ds *dataset.Dataset
	switch cfg.Source {
	case config.SourceSynthetic:
		ds, err = dataset.Synthetic(cfg.Limit, cfg.Classes, cfg.Shape, cfg.Noise, cfg.Seed)
	case config.SourceCSV:
		ds, err = dataset.LoadCSV(cfg.Path, dataset.CSVOptions{
			LabelColumn: cfg.LabelColumn,
			Header:      cfg.Header,
			Shape:       cfg.Shape,
			Scale:       cfg.Scale,
			Classes:     cfg.Classes,
			Limit:       cfg.Limit,
		})
	case config.SourceIDX:
		ds, err = dataset.LoadIDX(cfg.Path, cfg.Labels, cfg.Classes, cfg.Limit)
	default:
		return nil, nil, fmt.Errorf("unknown data source %q", cfg.Source)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, nil, err
	}

	if cfg.Shuffle {
		ds.Shuffle(cfg.Seed)
	}
	ds = ds.Take(cfg.Limit)

	if cfg.ValidationSplit <= 0 {
		return ds, nil, nil
	}
	train, validation = ds.Split(cfg.ValidationSplit)
	if train.Len() == 0 {
		return nil, nil, fmt.Errorf("validationSplit %g leaves no training samples", cfg.ValidationSplit)
	}
	if validation.Len() == 0 {
		validation = nil
	}
	return train, validation, nil
}
