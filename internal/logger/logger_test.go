package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestConfigure_JSONWithDefaultFields verifies every line carries the service field.
func TestConfigure_JSONWithDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	configure(l, "", "debug")

	l.WithField("source", "France-Paris").Debug("loaded")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != Service || line["source"] != "France-Paris" || line["msg"] != "loaded" {
		t.Errorf("unexpected line %v", line)
	}
	if _, ok := line["pid"]; !ok {
		t.Error("expected pid field")
	}
}

// TestConfigure_ExplicitFieldWins verifies a default never overrides a caller field.
func TestConfigure_ExplicitFieldWins(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	configure(l, "", "")
	configure(l, "", "")

	l.WithField("service", "sync").Info("posted")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatal(err)
	}
	if line["service"] != "sync" {
		t.Errorf("expected caller service field, got %v", line["service"])
	}
}

// TestConfigure_LevelAndFormat verifies the threshold and the text format.
func TestConfigure_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	configure(l, "text", "warn")

	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
	l.Warn("shown")
	if !strings.Contains(buf.String(), "msg=shown") || !strings.Contains(buf.String(), "service="+Service) {
		t.Errorf("unexpected text line %q", buf.String())
	}

	configure(l, "", "bogus")
	if l.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info level fallback, got %s", l.GetLevel())
	}
}
