package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"brickstream.ai/internal/config"
	"brickstream.ai/internal/persistence/indexdb"
	"brickstream.ai/internal/persistence/r2s3"
)

// buildMirror returns nil when mirroring is disabled. Credentials left empty
// in the config are read from BRICKSTREAM_S3_ACCESS_KEY_ID and
// BRICKSTREAM_S3_SECRET_ACCESS_KEY.
func buildMirror(cfg config.MirrorConfig, dataDir string, idx *indexdb.SQLiteIndex, log *zap.Logger) (*r2s3.Mirror, error) {
	enabled := envBool("BRICKSTREAM_MIRROR", cfg.Enabled)
	if !enabled {
		return nil, nil
	}
	if cfg.AccessKeyID == "" {
		cfg.AccessKeyID = strings.TrimSpace(os.Getenv("BRICKSTREAM_S3_ACCESS_KEY_ID"))
	}
	if cfg.SecretAccessKey == "" {
		cfg.SecretAccessKey = strings.TrimSpace(os.Getenv("BRICKSTREAM_S3_SECRET_ACCESS_KEY"))
	}

	client, err := r2s3.New(r2s3.Config{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: mirror: %w", config.ErrConfiguration, err)
	}

	return r2s3.NewMirror(client, r2s3.MirrorOptions{
		DataDir: dataDir,
		Prefix:  cfg.Prefix,
		Workers: cfg.Workers,
		OnResult: func(r r2s3.Result) {
			row := indexdb.MirrorRow{Path: r.Path, Key: r.Key, Bytes: r.Bytes, UploadedAt: r.UploadedAt}
			if r.Err != nil {
				row.Err = r.Err.Error()
			}
			idx.RecordMirror(row)
		},
	}, log), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
