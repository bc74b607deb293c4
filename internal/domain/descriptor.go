package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultLocation is used when a descriptor has no usable locale
const DefaultLocation = "Europe/Paris"

// DefaultEditorPattern is the external editor link used when a source does
// not declare one.
const DefaultEditorPattern = "https://waze.com/fr/editor?env=row&lat=${lat}&lon=${lon}&zoomLevel=19"

// ParisCenter is the fallback map center
var ParisCenter = LatLng{Lat: 48.85337, Lon: 2.34847}

// LatLng is a geographic coordinate
type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Parser is one date extraction rule. Matcher is a regular expression
// locating the date in the raw text; Format is a strftime layout, empty when
// the text is an epoch timestamp.
type Parser struct {
	Matcher   string `json:"matcher"`
	Format    string `json:"format,omitempty"`
	AddYear   bool   `json:"addYear"`
	ResetHour bool   `json:"resetHour"`
}

// DateRule locates a date field and lists the parsers tried on it, in order
type DateRule struct {
	Path    string   `json:"path"`
	Parsers []Parser `json:"parsers"`
}

// Param is one static query parameter
type Param struct {
	Key   string
	Value string
}

// QueryParams keeps static query parameters in the order they are declared
// in the descriptor file.
type QueryParams []Param

// UnmarshalJSON decodes a JSON object while preserving key order
func (q *QueryParams) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*q = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("domain: urlParams must be an object")
	}
	params := QueryParams{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		var value string
		switch v := valTok.(type) {
		case string:
			value = v
		case json.Number:
			value = v.String()
		case bool:
			value = strconv.FormatBool(v)
		case nil:
			value = ""
		default:
			return fmt.Errorf("domain: urlParams value for %q must be a scalar", key)
		}
		params = append(params, Param{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*q = params
	return nil
}

// MarshalJSON encodes the parameters as an object in declaration order
func (q QueryParams) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range q {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Metadata describes an open data source for display and request building.
// LegacyURLParams holds the snake_case spelling found in older descriptors.
type Metadata struct {
	Country         string      `json:"country"`
	Center          LatLng      `json:"center"`
	SourceURL       string      `json:"sourceUrl"`
	URL             string      `json:"url"`
	Name            string      `json:"name"`
	Producer        string      `json:"producer,omitempty"`
	LicenceName     string      `json:"licenceName,omitempty"`
	LicenceURL      string      `json:"licenceUrl,omitempty"`
	Locale          string      `json:"locale,omitempty"`
	URLParams       QueryParams `json:"urlParams,omitempty"`
	LegacyURLParams QueryParams `json:"url_params,omitempty"`
	TileServer      string      `json:"tileServer,omitempty"`
	EditorPattern   string      `json:"editorPattern,omitempty"`
}

// Location resolves the locale as a time zone, falling back to Europe/Paris
func (m *Metadata) Location() *time.Location {
	if m.Locale != "" {
		if loc, err := time.LoadLocation(m.Locale); err == nil {
			return loc
		}
	}
	loc, err := time.LoadLocation(DefaultLocation)
	if err != nil {
		return time.UTC
	}
	return loc
}

// QueryParameters returns the static query parameters, whichever spelling
// the descriptor used.
func (m *Metadata) QueryParameters() QueryParams {
	if len(m.URLParams) > 0 {
		return m.URLParams
	}
	return m.LegacyURLParams
}

// EditorURL fills the editor pattern with a position
func (m *Metadata) EditorURL(lat, lon float64) string {
	pattern := m.EditorPattern
	if pattern == "" {
		pattern = DefaultEditorPattern
	}
	return strings.NewReplacer(
		"${lat}", strconv.FormatFloat(lat, 'f', -1, 64),
		"${lon}", strconv.FormatFloat(lon, 'f', -1, 64),
	).Replace(pattern)
}

// SourceDescriptor is the declarative description of one open data source.
// Every path is a JSON path evaluated against one element of the roadwork
// array, except RoadworkArray which is evaluated against the whole payload.
type SourceDescriptor struct {
	Metadata                Metadata  `json:"metadata"`
	ID                      string    `json:"id"`
	Latitude                *string   `json:"latitude,omitempty"`
	Longitude               *string   `json:"longitude,omitempty"`
	Polygon                 string    `json:"polygon,omitempty"`
	Road                    string    `json:"road,omitempty"`
	Description             string    `json:"description,omitempty"`
	LocationDetails         string    `json:"locationDetails,omitempty"`
	ImpactCirculationDetail string    `json:"impactCirculationDetail,omitempty"`
	From                    *DateRule `json:"from,omitempty"`
	To                      *DateRule `json:"to,omitempty"`
	RoadworkArray           string    `json:"roadworkArray"`
	URL                     string    `json:"url,omitempty"`
}
