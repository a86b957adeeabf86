package notify

import (
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 3, 8, 55, 0, 0, time.UTC)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		present bool
		kind    PayloadKind
		text    string
		object  bool
	}{
		{"absent", "", false, PayloadAbsent, "", false},
		{"object", `{"title":"T"}`, true, PayloadObject, "", true},
		{"string wrapping object", `"{\"title\":\"T\"}"`, true, PayloadString, "", true},
		{"plain string", `"just words"`, true, PayloadString, "just words", false},
		{"raw text", "Hello", true, PayloadText, "Hello", false},
		{"number", "42", true, PayloadText, "42", false},
		{"empty body", "", true, PayloadText, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Decode([]byte(tt.data), tt.present)
			if p.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", p.Kind, tt.kind)
			}
			if (p.Object != nil) != tt.object {
				t.Errorf("object set = %v, want %v", p.Object != nil, tt.object)
			}
			if !tt.object && p.Text != tt.text {
				t.Errorf("text = %q, want %q", p.Text, tt.text)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	d := Normalize(Decode([]byte("Hello"), true), fixedNow)

	if d.Title != DefaultTitle {
		t.Errorf("title = %q, want %q", d.Title, DefaultTitle)
	}
	if d.Body != "Hello" {
		t.Errorf("body = %q, want Hello", d.Body)
	}
	if d.URL() != DashboardURL {
		t.Errorf("url = %q, want %q", d.URL(), DashboardURL)
	}
}

func TestNormalizeObjectAppliesDefaults(t *testing.T) {
	d := Normalize(Decode([]byte(`{"title":"T","body":"B"}`), true), fixedNow)

	if d.Title != "T" || d.Body != "B" {
		t.Errorf("title/body = %q/%q, want T/B", d.Title, d.Body)
	}
	if d.Icon != DefaultIcon {
		t.Errorf("icon = %q, want %q", d.Icon, DefaultIcon)
	}
	if d.Badge != DefaultBadge {
		t.Errorf("badge = %q, want %q", d.Badge, DefaultBadge)
	}
	if d.Data["url"] != DashboardURL {
		t.Errorf("data.url = %v, want %q", d.Data["url"], DashboardURL)
	}
	if d.Timestamp != fixedNow.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", d.Timestamp, fixedNow.UnixMilli())
	}
}

func TestNormalizeBodyOnly(t *testing.T) {
	d := Normalize(Decode([]byte(`{"body":"only body"}`), true), fixedNow)

	if d.Title != DefaultTitle {
		t.Errorf("title = %q, want default", d.Title)
	}
	if d.Body != "only body" {
		t.Errorf("body = %q", d.Body)
	}
}

func TestNormalizeAbsent(t *testing.T) {
	d := Normalize(Decode(nil, false), fixedNow)

	if d.Title != DefaultTitle || d.Body != "" {
		t.Errorf("got %q/%q, want default title and empty body", d.Title, d.Body)
	}
	if d.Actions == nil {
		t.Error("actions should be an empty list, not nil")
	}
}

func TestDefaultTitleIsSpanish(t *testing.T) {
	d := Normalize(Decode([]byte("hola"), true), fixedNow)
	if d.Title != "Notificación" {
		t.Errorf("title = %q, want Notificación", d.Title)
	}
}

func TestNormalizeTag(t *testing.T) {
	withNid := Normalize(Decode([]byte(`{"data":{"nid":17,"url":"/records"}}`), true), fixedNow)
	if withNid.Tag != "push-17" {
		t.Errorf("tag = %q, want push-17", withNid.Tag)
	}
	if withNid.URL() != "/records" {
		t.Errorf("url = %q, want /records", withNid.URL())
	}

	stringNid := Normalize(Decode([]byte(`{"data":{"nid":"abc"}}`), true), fixedNow)
	if stringNid.Tag != "push-abc" {
		t.Errorf("tag = %q, want push-abc", stringNid.Tag)
	}

	noNid := Normalize(Decode([]byte(`{"title":"x"}`), true), fixedNow)
	want := "push-1772528100000"
	if noNid.Tag != want {
		t.Errorf("tag = %q, want %q", noNid.Tag, want)
	}
}

func TestNormalizeActions(t *testing.T) {
	raw := `{"actions":[{"action":"open","title":"Open"},{"title":"missing action"},"junk"]}`
	d := Normalize(Decode([]byte(raw), true), fixedNow)

	if len(d.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(d.Actions))
	}
	if d.Actions[0].Action != "open" || d.Actions[0].Title != "Open" {
		t.Errorf("action = %+v", d.Actions[0])
	}
}

func TestNormalizeWrongFieldTypes(t *testing.T) {
	d := Normalize(Decode([]byte(`{"title":["x"],"icon":5,"data":"nope"}`), true), fixedNow)

	if d.Title != DefaultTitle {
		t.Errorf("title = %q, want default", d.Title)
	}
	if d.Icon != "5" {
		t.Errorf("icon = %q, want 5", d.Icon)
	}
	if d.URL() != DashboardURL {
		t.Errorf("url = %q, want dashboard", d.URL())
	}
}
