// Package env defines the capability contract of the actuation environment a
// task graph runs against, and an in-memory simulated implementation used by
// tests and dry runs. One environment instance is exclusively owned by one
// running task.
package env

import "time"

// Element is a flattened summary of one collected DOM element.
type Element struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Attr string `json:"attr,omitempty"`
}

// Field names one value an EXTRACT step should pull from the page. A field
// with an explicit selector can be resolved without any model assistance.
type Field struct {
	Name     string `json:"name"`
	Selector string `json:"selector,omitempty"`
}

// Cookie mirrors the subset of cookie state the rollback manager snapshots.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Environment is the full capability contract. All operations are synchronous
// and individually time-boxed by the implementation; expiry surfaces as an
// error or a false return, never a hang.
type Environment interface {
	Navigate(url string) error
	CurrentURL() string
	Title() string
	TextContent() (string, error)

	Collect(selector string) ([]Element, error)
	Extract(fields []Field) (map[string]any, error)

	Click(selector string, timeout time.Duration) (bool, error)
	TypeText(selector, text string) error
	Submit(selector string) error
	PressKey(key string) error
	ScrollToBottom() error
	Refresh() error
	Wait(d time.Duration)

	Cookies() []Cookie
	SetCookie(c Cookie)
	ClearCookies()
	LocalStorage() map[string]string
	SetLocalStorageItem(key, value string)
	ClearLocalStorage()

	Close() error
}

// State is the accumulating evidence snapshot of the environment. Merges are
// monotonic: new evidence overlays existing keys but a merge never deletes a
// previously captured field.
type State map[string]any

func (s State) Merge(update map[string]any) {
	for k, v := range update {
		s[k] = v
	}
}

func (s State) String(key string) string {
	v, ok := s[key].(string)
	if !ok {
		return ""
	}
	return v
}

func (s State) Bool(key string) bool {
	v, ok := s[key].(bool)
	return ok && v
}

// List returns a slice-valued field, tolerating both []any (JSON/msgpack
// round-trips) and typed slices written by handlers.
func (s State) List(key string) []any {
	switch v := s[key].(type) {
	case []any:
		return v
	case []Element:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out
	default:
		return nil
	}
}

func (s State) Map(key string) map[string]any {
	v, ok := s[key].(map[string]any)
	if !ok {
		return nil
	}
	return v
}
