package service

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartcity/roadwork/internal/dates"
	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/extract"
	"github.com/smartcity/roadwork/internal/logger"
)

// RecordBuilder turns one raw JSON node into a Roadwork following a
// descriptor
type RecordBuilder struct {
	descriptor *domain.SourceDescriptor
	loc        *time.Location
	now        func() time.Time
}

// NewRecordBuilder creates a builder for one descriptor
func NewRecordBuilder(descriptor *domain.SourceDescriptor, now func() time.Time) *RecordBuilder {
	if now == nil {
		now = time.Now
	}
	return &RecordBuilder{
		descriptor: descriptor,
		loc:        descriptor.Metadata.Location(),
		now:        now,
	}
}

// Build extracts a Roadwork from node. Optional fields never fail the build;
// the identifier, the position and the start date do.
func (b *RecordBuilder) Build(node extract.Queryable) (*domain.Roadwork, error) {
	d := b.descriptor

	if d.ID == "" {
		return nil, &domain.BuildError{Kind: domain.MissingField, Field: "id"}
	}
	id, err := extract.String(node, d.ID)
	if err != nil {
		return nil, &domain.BuildError{Kind: domain.PathError, Field: "id", Err: err}
	}

	lat, err := b.coordinate(node, "latitude", d.Latitude)
	if err != nil {
		return nil, err
	}
	lon, err := b.coordinate(node, "longitude", d.Longitude)
	if err != nil {
		return nil, err
	}

	r := &domain.Roadwork{
		ID:                      id,
		Latitude:                lat,
		Longitude:               lon,
		Road:                    b.optional(node, d.Road),
		Description:             b.optional(node, d.Description),
		LocationDetails:         b.optional(node, d.LocationDetails),
		ImpactCirculationDetail: b.optional(node, d.ImpactCirculationDetail),
		URL:                     b.optional(node, d.URL),
	}
	if d.Polygon != "" {
		r.Polygons = extract.Polygons(node, d.Polygon)
	}

	start, end, err := b.dateRange(node, id)
	if err != nil {
		return nil, err
	}
	r.Start = start
	r.End = end

	if !r.HasLocation() {
		return nil, &domain.BuildError{Kind: domain.InvalidRecord, Field: "location"}
	}
	return r, nil
}

func (b *RecordBuilder) coordinate(node extract.Queryable, field string, path *string) (float64, error) {
	if path == nil || *path == "" {
		return 0, &domain.BuildError{Kind: domain.MissingField, Field: field}
	}
	v, err := extract.Float(node, *path)
	if err != nil {
		return 0, &domain.BuildError{Kind: domain.PathError, Field: field, Err: err}
	}
	return v, nil
}

func (b *RecordBuilder) optional(node extract.Queryable, path string) string {
	if path == "" {
		return ""
	}
	v, err := extract.String(node, path)
	if err != nil {
		logger.Log.WithError(err).Debugf("optional field %s skipped", path)
		return ""
	}
	return v
}

// dateRange resolves start and end in epoch milliseconds. A missing end
// yields an open-ended range.
func (b *RecordBuilder) dateRange(node extract.Queryable, id string) (int64, int64, error) {
	d := b.descriptor
	if d.From == nil {
		return 0, 0, &domain.BuildError{Kind: domain.MissingField, Field: "from"}
	}
	raw, err := extract.Text(node, d.From.Path)
	if err != nil {
		return 0, 0, &domain.BuildError{Kind: domain.PathError, Field: "from", Err: err}
	}
	res, err := dates.Parse(d.From.Parsers, raw, b.loc)
	if err != nil {
		return 0, 0, &domain.BuildError{Kind: domain.DateError, Field: "from", Err: err}
	}
	start := b.adjust(res)

	if d.To == nil {
		return start.UnixMilli(), 0, nil
	}
	raw, err = extract.Text(node, d.To.Path)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"id": id, "path": d.To.Path}).Debug("no end date")
		return start.UnixMilli(), 0, nil
	}
	res, err = dates.Parse(d.To.Parsers, raw, b.loc)
	if err != nil {
		logger.Log.WithError(err).WithField("id", id).Warn("unable to parse end date")
		return start.UnixMilli(), 0, nil
	}
	end := b.adjust(res)
	if res.AddYear && end.Before(start) {
		if next, ok := dates.WithYear(end, end.Year()+1); ok {
			end = next
		}
	}
	return start.UnixMilli(), end.UnixMilli(), nil
}

func (b *RecordBuilder) adjust(res dates.Result) time.Time {
	t := res.Time.In(b.loc)
	if res.ResetHour {
		t = dates.ResetHour(t)
	}
	if res.AddYear {
		if moved, ok := dates.WithYear(t, b.now().In(b.loc).Year()); ok {
			t = moved
		} else {
			logger.Log.Debugf("date %s has no equivalent this year", t.Format("2006-01-02"))
		}
	}
	return t
}
