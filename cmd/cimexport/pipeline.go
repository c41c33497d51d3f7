package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/g-uva/GreenDIGIT-CIM/pkg/config"
	"github.com/g-uva/GreenDIGIT-CIM/pkg/export"
	"github.com/g-uva/GreenDIGIT-CIM/pkg/sink"
	sourcemongo "github.com/g-uva/GreenDIGIT-CIM/pkg/source/mongo"
	"github.com/g-uva/GreenDIGIT-CIM/pkg/watermark"
	watermarkbadger "github.com/g-uva/GreenDIGIT-CIM/pkg/watermark/badger"
	watermarkmongo "github.com/g-uva/GreenDIGIT-CIM/pkg/watermark/mongo"
)

// pipeline bundles the connected collaborators. Connections are acquired
// here and released by Close; nothing holds process-wide singletons.
type pipeline struct {
	client   *mongo.Client
	source   *sourcemongo.Store
	sink     *sink.DB
	marks    watermark.Store
	exporter *export.Exporter
}

func buildPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pipeline, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source: %w", err)
	}
	db := client.Database(cfg.Database)

	src := sourcemongo.New(db, cfg.MetricsCollection)
	if err := src.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	snk, err := sink.Open(cfg.PostgresDSN)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	var marks watermark.Store
	switch cfg.WatermarkBackend {
	case config.WatermarkBadger:
		marks, err = watermarkbadger.New(watermarkbadger.Config{Path: cfg.BadgerPath})
		if err != nil {
			_ = snk.Close()
			_ = client.Disconnect(ctx)
			return nil, err
		}
	default:
		marks = watermarkmongo.New(db, cfg.CursorsCollection)
	}

	return &pipeline{
		client: client,
		source: src,
		sink:   snk,
		marks:  marks,
		exporter: export.New(src, snk, marks, export.Options{
			Processor: cfg.Processor,
			Logger:    logger,
		}),
	}, nil
}

func (p *pipeline) Close(ctx context.Context) {
	if err := p.marks.Close(); err != nil {
		slog.Warn("failed to close watermark store", "error", err)
	}
	if err := p.sink.Close(); err != nil {
		slog.Warn("failed to close sink", "error", err)
	}
	if err := p.client.Disconnect(ctx); err != nil {
		slog.Warn("failed to disconnect from source", "error", err)
	}
}
