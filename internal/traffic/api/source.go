package api

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/singleflight"
	"trafficpulse.com/internal/traffic/analytics"
	"trafficpulse.com/internal/traffic/ingest"
	"trafficpulse.com/pkg/xerr"
)

// docReadTimeout bounds a shared read, which no longer follows any one request.
const docReadTimeout = 10 * time.Second

// Documents serves the analysis output (current + predictions) to the query
// endpoints. Concurrent reads of the same document share one Read.
type Documents struct {
	current     ingest.Reader
	predictions ingest.Reader
	group       singleflight.Group
}

// NewDocuments wires the readers. predictions may be nil.
func NewDocuments(current, predictions ingest.Reader) *Documents {
	return &Documents{current: current, predictions: predictions}
}

func (d *Documents) read(ctx context.Context, key string, r ingest.Reader) ([]byte, error) {
	if r == nil {
		return nil, xerr.NewErrCode(xerr.NoData)
	}
	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		// 共享的读取不能跟着第一个请求一起被取消
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), docReadTimeout)
		defer cancel()
		return r.Read(rctx)
	})
	if errors.Is(err, ingest.ErrSourceAbsent) {
		return nil, xerr.Wrap(err, xerr.NoData, "")
	}
	if err != nil {
		return nil, xerr.Wrap(err, xerr.ServerCommonError, "")
	}
	return v.([]byte), nil
}

func (d *Documents) decode(ctx context.Context, key string, r ingest.Reader, out interface{}) error {
	b, err := d.read(ctx, key, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		// 文件写了一半或者格式坏了，对外等同于没有数据
		return xerr.Wrap(err, xerr.NoData, "")
	}
	return nil
}

// Current returns the current analysis document as generic JSON.
func (d *Documents) Current(ctx context.Context) (interface{}, error) {
	var v interface{}
	if err := d.decode(ctx, "current", d.current, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, xerr.NewErrCode(xerr.NoData)
	}
	return v, nil
}

// Predictions returns the prediction document as generic JSON.
func (d *Documents) Predictions(ctx context.Context) (interface{}, error) {
	var v interface{}
	if err := d.decode(ctx, "predictions", d.predictions, &v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, xerr.NewErrCode(xerr.NoData)
	}
	return v, nil
}

// Report returns the current document as a report. A document without
// intersections is reported as NoData.
func (d *Documents) Report(ctx context.Context) (analytics.Report, error) {
	var r analytics.Report
	if err := d.decode(ctx, "current", d.current, &r); err != nil {
		return analytics.Report{}, err
	}
	if r.Intersections == nil {
		return analytics.Report{}, xerr.NewErrCode(xerr.NoData)
	}
	return r, nil
}
