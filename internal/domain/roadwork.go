package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CacheVersion is part of every cache key. Bump it when the stored Roadwork
// shape changes incompatibly; older caches are then ignored.
const CacheVersion = 2

// Status is the user/server owned label of a roadwork
type Status int

// Declaration order matters: it drives default and sort order.
const (
	StatusNew Status = iota
	StatusLater
	StatusIgnored
	StatusFinished
	StatusTreated
)

var statusNames = [...]string{"New", "Later", "Ignored", "Finished", "Treated"}

// String returns the wire name of the status
func (s Status) String() string {
	if s < StatusNew || s > StatusTreated {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus converts a wire name into a Status
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusNew, fmt.Errorf("domain: unknown status %q", name)
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	if s < StatusNew || s > StatusTreated {
		return nil, fmt.Errorf("domain: invalid status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SyncState is the annotation attached to a roadwork, independent of the
// open data payload.
type SyncState struct {
	LocalUpdateTime  int64  `json:"localUpdateTime"`
	ServerUpdateTime int64  `json:"serverUpdateTime"`
	Status           Status `json:"status"`
	Dirty            bool   `json:"dirty"`
}

// CopyFrom takes timestamps and status from other. Dirty is left untouched.
func (s *SyncState) CopyFrom(other SyncState) {
	s.LocalUpdateTime = other.LocalUpdateTime
	s.ServerUpdateTime = other.ServerUpdateTime
	s.Status = other.Status
}

// Polygon is one ring of coordinates, X holds longitudes and Y latitudes
type Polygon struct {
	X []float64 `json:"xpoints"`
	Y []float64 `json:"ypoints"`
}

// NewPolygon creates a polygon from its coordinate lists
func NewPolygon(x, y []float64) Polygon {
	return Polygon{X: x, Y: y}
}

// Roadwork is one road-work event normalized from an open data source
type Roadwork struct {
	ID                      string    `json:"id"`
	Latitude                float64   `json:"latitude"`
	Longitude               float64   `json:"longitude"`
	Polygons                []Polygon `json:"polygons,omitempty"`
	Start                   int64     `json:"start"`
	End                     int64     `json:"end"`
	Road                    string    `json:"road"`
	LocationDetails         string    `json:"locationDetails"`
	ImpactCirculationDetail string    `json:"impactCirculationDetail"`
	Description             string    `json:"description"`
	URL                     string    `json:"url"`
	SyncData                SyncState `json:"syncData"`
}

// IsExpired reports whether the roadwork ended before now.
// Open-ended roadworks (End == 0) never expire.
func (r *Roadwork) IsExpired(now time.Time) bool {
	return r.End != 0 && r.End < now.UnixMilli()
}

// HasLocation reports whether the roadwork carries a usable position
func (r *Roadwork) HasLocation() bool {
	return !(r.Latitude == 0 && r.Longitude == 0)
}

// EpochDuration is a duration since the Unix epoch, serialized as
// {"secs":..,"nanos":..} so existing cache files stay readable.
type EpochDuration struct {
	Secs  int64 `json:"secs"`
	Nanos int32 `json:"nanos"`
}

// EpochOf converts a time into an EpochDuration
func EpochOf(t time.Time) EpochDuration {
	return EpochDuration{Secs: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time converts back to a time.Time
func (d EpochDuration) Time() time.Time {
	return time.Unix(d.Secs, int64(d.Nanos))
}

// Dataset is the set of roadworks fetched for one source
type Dataset struct {
	Source    string               `json:"source"`
	Roadworks map[string]*Roadwork `json:"roadworks"`
	Created   EpochDuration        `json:"created"`
}

// NewDataset indexes roadworks by identifier. A later duplicate replaces an
// earlier one.
func NewDataset(source string, roadworks []*Roadwork, created time.Time) *Dataset {
	byID := make(map[string]*Roadwork, len(roadworks))
	for _, r := range roadworks {
		byID[r.ID] = r
	}
	return &Dataset{
		Source:    source,
		Roadworks: byID,
		Created:   EpochOf(created),
	}
}

// Age returns how old the dataset is at now
func (d *Dataset) Age(now time.Time) time.Duration {
	return now.Sub(d.Created.Time())
}

// Get returns the roadwork with the given identifier
func (d *Dataset) Get(id string) (*Roadwork, bool) {
	r, ok := d.Roadworks[id]
	return r, ok
}

// Len returns the number of roadworks
func (d *Dataset) Len() int {
	return len(d.Roadworks)
}

// SyncStates maps every identifier to a copy of its SyncState
func (d *Dataset) SyncStates() map[string]SyncState {
	states := make(map[string]SyncState, len(d.Roadworks))
	for id, r := range d.Roadworks {
		states[id] = r.SyncData
	}
	return states
}

// Visible returns the roadworks to display. When hideExpired is set, expired
// roadworks are left out.
func (d *Dataset) Visible(hideExpired bool, now time.Time) []*Roadwork {
	out := make([]*Roadwork, 0, len(d.Roadworks))
	for _, r := range d.Roadworks {
		if hideExpired && r.IsExpired(now) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// UnmarshalJSON tolerates a null roadworks object but rejects null entries
// and entries stored under another id.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	type alias Dataset
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Roadworks == nil {
		raw.Roadworks = map[string]*Roadwork{}
	}
	for id, r := range raw.Roadworks {
		if r == nil {
			return fmt.Errorf("domain: roadwork %q is null", id)
		}
		if r.ID != id {
			return fmt.Errorf("domain: roadwork %q stored under %q", r.ID, id)
		}
	}
	*d = Dataset(raw)
	return nil
}
