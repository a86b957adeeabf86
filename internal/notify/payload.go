package notify

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// PayloadKind tags which shape an incoming push body had.
type PayloadKind int

const (
	PayloadAbsent PayloadKind = iota
	PayloadObject
	PayloadString
	PayloadText
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadAbsent:
		return "absent"
	case PayloadObject:
		return "object"
	case PayloadString:
		return "string"
	case PayloadText:
		return "text"
	}
	return "unknown"
}

// Payload is a decoded push body. Object is set for PayloadObject, and for
// PayloadString when the string held an encoded object; otherwise Text holds
// the content.
type Payload struct {
	Kind   PayloadKind
	Object map[string]any
	Text   string
}

// Decode resolves a raw push body. It never fails: anything that is not a
// JSON object, or a JSON string wrapping one, degrades to text.
func Decode(data []byte, present bool) Payload {
	if !present {
		return Payload{Kind: PayloadAbsent}
	}

	trimmed := bytes.TrimSpace(data)
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Payload{Kind: PayloadText, Text: string(data)}
	}

	switch t := v.(type) {
	case map[string]any:
		return Payload{Kind: PayloadObject, Object: t}
	case string:
		var inner map[string]any
		if err := json.Unmarshal([]byte(t), &inner); err == nil && inner != nil {
			return Payload{Kind: PayloadString, Object: inner}
		}
		return Payload{Kind: PayloadString, Text: t}
	default:
		return Payload{Kind: PayloadText, Text: string(trimmed)}
	}
}

// Normalize applies per-field defaults to p. now supplies the timestamp and
// the fallback tag for payloads without a notification id.
func Normalize(p Payload, now time.Time) Descriptor {
	d := Descriptor{
		Title:     DefaultTitle,
		Icon:      DefaultIcon,
		Badge:     DefaultBadge,
		Data:      map[string]any{},
		Actions:   []Action{},
		Timestamp: now.UnixMilli(),
	}

	if p.Object == nil {
		d.Body = p.Text
	} else {
		obj := p.Object
		if s, ok := stringField(obj["title"]); ok && s != "" {
			d.Title = s
		}
		if s, ok := stringField(obj["body"]); ok {
			d.Body = s
		}
		if s, ok := stringField(obj["icon"]); ok && s != "" {
			d.Icon = s
		}
		if s, ok := stringField(obj["badge"]); ok && s != "" {
			d.Badge = s
		}
		if data, ok := obj["data"].(map[string]any); ok {
			for k, v := range data {
				d.Data[k] = v
			}
		}
		d.Actions = parseActions(obj["actions"])
	}

	if u, ok := d.Data["url"].(string); !ok || u == "" {
		d.Data["url"] = DashboardURL
	}

	// A distinct tag per notification keeps the platform from replacing
	// one notification with another.
	if nid, ok := stringField(d.Data["nid"]); ok && nid != "" {
		d.Tag = "push-" + nid
	} else {
		d.Tag = "push-" + strconv.FormatInt(d.Timestamp, 10)
	}

	return d
}

func stringField(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func parseActions(v any) []Action {
	list, ok := v.([]any)
	if !ok {
		return []Action{}
	}
	actions := make([]Action, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := stringField(m["action"])
		title, _ := stringField(m["title"])
		if name == "" || title == "" {
			continue
		}
		icon, _ := stringField(m["icon"])
		actions = append(actions, Action{Action: name, Title: title, Icon: icon})
	}
	return actions
}
