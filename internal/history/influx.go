package history

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"valvectl/internal/storage"
)

type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// pointWriter is the part of api.WriteAPIBlocking we use.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Influx writes one point per session.
type Influx struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
}

func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx config incomplete")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurementOr(cfg.Measurement),
	}, nil
}

func measurementOr(m string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return "irrigation_session"
	}
	return m
}

func (*Influx) Name() string { return "influx" }

func (i *Influx) Record(ctx context.Context, e storage.SessionEntry) error {
	return i.writer.WritePoint(ctx, point(i.measurement, e))
}

func point(measurement string, e storage.SessionEntry) *write.Point {
	ts := e.EndedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	tags := map[string]string{
		"channel": strconv.Itoa(e.Channel),
		"origin":  e.Origin,
		"reason":  e.Reason,
	}
	fields := map[string]interface{}{
		"requested_minutes": e.RequestedMinutes,
		"elapsed_seconds":   e.ElapsedSeconds,
		"session_id":        e.ID,
		"slot":              e.Slot,
	}
	return influxdb2.NewPoint(measurement, tags, fields, ts)
}

func (i *Influx) Close() {
	if i.client != nil {
		i.client.Close()
	}
}
