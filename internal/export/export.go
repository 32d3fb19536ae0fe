// Package export writes stored predictions as JSON Lines to a local file or
// an S3 object.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisdata/lotvalue/internal/model"
	"github.com/numisdata/lotvalue/internal/store"
)

// PredictionLister lists stored predictions.
type PredictionLister interface {
	ListPredictions(ctx context.Context, filter store.PredictionFilter) ([]model.PricePrediction, error)
}

// Uploader is satisfied by *manager.Uploader.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Destination is a parsed --out value.
type Destination struct {
	Path   string
	Bucket string
	Key    string
}

// IsS3 reports whether the destination is an S3 object.
func (d Destination) IsS3() bool { return d.Bucket != "" }

// ParseDestination accepts a filesystem path, "-" for stdout, or
// s3://bucket/key.
func ParseDestination(out string) (Destination, error) {
	rest, ok := strings.CutPrefix(out, "s3://")
	if !ok {
		if out == "" {
			return Destination{}, eris.New("export: empty destination")
		}
		return Destination{Path: out}, nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return Destination{}, eris.Errorf("export: s3 destination %q needs a bucket and an object key", out)
	}
	return Destination{Bucket: bucket, Key: key}, nil
}

// WriteJSONL writes one prediction per line.
func WriteJSONL(w io.Writer, preds []model.PricePrediction) error {
	enc := json.NewEncoder(w)
	for i := range preds {
		if err := enc.Encode(&preds[i]); err != nil {
			return eris.Wrapf(err, "export: encode prediction %d", preds[i].LotID)
		}
	}
	return nil
}

// Exporter copies predictions to a Destination.
type Exporter struct {
	src      PredictionLister
	uploader Uploader
	stdout   io.Writer
}

// New creates an Exporter. uploader may be nil when only local output is used.
func New(src PredictionLister, uploader Uploader) *Exporter {
	return &Exporter{src: src, uploader: uploader, stdout: os.Stdout}
}

// Export writes every prediction matching filter to dest and returns the
// number written.
func (e *Exporter) Export(ctx context.Context, filter store.PredictionFilter, dest Destination) (int, error) {
	preds, err := e.src.ListPredictions(ctx, filter)
	if err != nil {
		return 0, eris.Wrap(err, "export: list predictions")
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, preds); err != nil {
		return 0, err
	}

	switch {
	case dest.IsS3():
		if e.uploader == nil {
			return 0, eris.New("export: s3 destination requires s3 configuration")
		}
		_, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(dest.Bucket),
			Key:         aws.String(dest.Key),
			Body:        bytes.NewReader(buf.Bytes()),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return 0, eris.Wrapf(err, "export: upload s3://%s/%s", dest.Bucket, dest.Key)
		}
	case dest.Path == "-":
		if _, err := e.stdout.Write(buf.Bytes()); err != nil {
			return 0, eris.Wrap(err, "export: write stdout")
		}
	default:
		if err := os.WriteFile(dest.Path, buf.Bytes(), 0o644); err != nil {
			return 0, eris.Wrapf(err, "export: write %s", dest.Path)
		}
	}

	zap.L().Info("export: predictions written",
		zap.Int("count", len(preds)),
		zap.String("destination", dest.String()),
	)
	return len(preds), nil
}

func (d Destination) String() string {
	if d.IsS3() {
		return "s3://" + d.Bucket + "/" + d.Key
	}
	return d.Path
}
