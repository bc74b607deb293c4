package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/extract"
)

func strPtr(s string) *string { return &s }

func annualDescriptor() *domain.SourceDescriptor {
	annual := []domain.Parser{{Matcher: `(\d{2}/\d{2})`, Format: "%d/%m", AddYear: true}}
	return &domain.SourceDescriptor{
		Metadata:  domain.Metadata{Name: "Annual", Locale: "Europe/Paris"},
		ID:        "@.id",
		Latitude:  strPtr("@.lat"),
		Longitude: strPtr("@.lon"),
		From:      &domain.DateRule{Path: "@.from", Parsers: annual},
		To:        &domain.DateRule{Path: "@.to", Parsers: annual},
	}
}

func buildNode(t *testing.T, b *RecordBuilder, body string) (*domain.Roadwork, error) {
	t.Helper()
	node, err := extract.Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return b.Build(node)
}

// TestBuild_AllFields verifies a complete node becomes a complete roadwork.
func TestBuild_AllFields(t *testing.T) {
	loc := parisLocation(t)
	b := NewRecordBuilder(loadParisDescriptor(t), time.Now)

	r, err := buildNode(t, b, `{
		"recordid":"a1",
		"geometry":{"coordinates":[2.35,48.85]},
		"fields":{"voie":"Rue de Rivoli","description":"Travaux","precision_localisation":"Devant le 12",
			"impact_circulation_detail":"Voie fermée","url":"https://example.org/a1",
			"date_debut":"2025-01-10","date_fin":"2025-03-01",
			"geo_shape":{"coordinates":[[[2.35,48.85],[2.36,48.86],[2.37,48.85]]]}}
	}`)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if r.ID != "a1" || r.Latitude != 48.85 || r.Longitude != 2.35 {
		t.Errorf("unexpected identity/position: %+v", r)
	}
	if r.Road != "Rue de Rivoli" || r.Description != "Travaux" || r.LocationDetails != "Devant le 12" ||
		r.ImpactCirculationDetail != "Voie fermée" || r.URL != "https://example.org/a1" {
		t.Errorf("unexpected text fields: %+v", r)
	}
	if len(r.Polygons) != 1 {
		t.Errorf("expected 1 polygon, got %d", len(r.Polygons))
	}
	if want := time.Date(2025, 1, 10, 0, 0, 0, 0, loc).UnixMilli(); r.Start != want {
		t.Errorf("expected start %d, got %d", want, r.Start)
	}
	if want := time.Date(2025, 3, 1, 0, 0, 0, 0, loc).UnixMilli(); r.End != want {
		t.Errorf("expected end %d, got %d", want, r.End)
	}
	if r.SyncData.Status != domain.StatusNew || r.SyncData.Dirty {
		t.Errorf("expected a fresh sync state, got %+v", r.SyncData)
	}
}

// TestBuild_OptionalFieldsMissing verifies absent optional fields are left empty.
func TestBuild_OptionalFieldsMissing(t *testing.T) {
	b := NewRecordBuilder(loadParisDescriptor(t), time.Now)

	r, err := buildNode(t, b, `{"recordid":"a1","geometry":{"coordinates":[2.35,48.85]},"fields":{"date_debut":"2025-01-10"}}`)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if r.Road != "" || r.Polygons != nil {
		t.Errorf("expected empty optional fields, got %+v", r)
	}
	if r.End != 0 {
		t.Errorf("expected open-ended range, got end %d", r.End)
	}
}

// TestBuild_UnparsableEndIsOpenEnded verifies a bad end date is not fatal.
func TestBuild_UnparsableEndIsOpenEnded(t *testing.T) {
	b := NewRecordBuilder(loadParisDescriptor(t), time.Now)

	r, err := buildNode(t, b, `{"recordid":"a1","geometry":{"coordinates":[2.35,48.85]},
		"fields":{"date_debut":"2025-01-10","date_fin":"fin 2025"}}`)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if r.End != 0 {
		t.Errorf("expected end 0, got %d", r.End)
	}
}

// TestBuild_Failures verifies each fatal step reports its error kind.
func TestBuild_Failures(t *testing.T) {
	d := loadParisDescriptor(t)
	noLat := *d
	noLat.Latitude = strPtr("")

	tests := []struct {
		name       string
		descriptor *domain.SourceDescriptor
		body       string
		kind       domain.BuildErrorKind
	}{
		{"missing id", d, `{"geometry":{"coordinates":[2.35,48.85]},"fields":{"date_debut":"2025-01-10"}}`, domain.PathError},
		{"empty latitude path", &noLat, `{"recordid":"a","geometry":{"coordinates":[2.35,48.85]},"fields":{"date_debut":"2025-01-10"}}`, domain.MissingField},
		{"bad longitude", d, `{"recordid":"a","geometry":{"coordinates":["east",48.85]},"fields":{"date_debut":"2025-01-10"}}`, domain.PathError},
		{"unparsable start", d, `{"recordid":"a","geometry":{"coordinates":[2.35,48.85]},"fields":{"date_debut":"bientôt"}}`, domain.DateError},
		{"missing start", d, `{"recordid":"a","geometry":{"coordinates":[2.35,48.85]},"fields":{}}`, domain.PathError},
		{"null island", d, `{"recordid":"a","geometry":{"coordinates":[0,0]},"fields":{"date_debut":"2025-01-10"}}`, domain.InvalidRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildNode(t, NewRecordBuilder(tt.descriptor, time.Now), tt.body)
			var be *domain.BuildError
			if !errors.As(err, &be) {
				t.Fatalf("expected BuildError, got %v", err)
			}
			if be.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, be.Kind)
			}
			if !domain.IsBuildError(fmt.Errorf("record 0: %w", err)) {
				t.Errorf("expected wrapped %v to be a build error", err)
			}
		})
	}
}

// TestBuild_YearRollover verifies an end before the start moves to the next year.
func TestBuild_YearRollover(t *testing.T) {
	loc := parisLocation(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, loc)
	b := NewRecordBuilder(annualDescriptor(), fixedClock(now))

	r, err := buildNode(t, b, `{"id":"x","lat":45.0,"lon":4.8,"from":"du 15/12","to":"au 15/01"}`)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if want := time.Date(2025, 12, 15, 0, 0, 0, 0, loc).UnixMilli(); r.Start != want {
		t.Errorf("expected start %d, got %d", want, r.Start)
	}
	if want := time.Date(2026, 1, 15, 0, 0, 0, 0, loc).UnixMilli(); r.End != want {
		t.Errorf("expected end %d, got %d", want, r.End)
	}
}

// TestBuild_NoRolloverWhenOrdered verifies an end after the start keeps the current year.
func TestBuild_NoRolloverWhenOrdered(t *testing.T) {
	loc := parisLocation(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, loc)
	b := NewRecordBuilder(annualDescriptor(), fixedClock(now))

	r, err := buildNode(t, b, `{"id":"x","lat":45.0,"lon":4.8,"from":"du 15/12","to":"au 20/12"}`)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if want := time.Date(2025, 12, 20, 0, 0, 0, 0, loc).UnixMilli(); r.End != want {
		t.Errorf("expected end %d, got %d", want, r.End)
	}
}
