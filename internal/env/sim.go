package env

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Page is one addressable document in a simulated site.
type Page struct {
	Title string
	HTML  string
}

// Sim is an in-memory Environment backed by real HTML parsing. It hosts a map
// of url -> page; navigation, selector queries, link clicks and form submits
// behave like a static site. Tests mutate pages between steps to simulate a
// changing live environment.
type Sim struct {
	mu sync.Mutex

	pages   map[string]*Page
	current string
	doc     *goquery.Document

	cookies []Cookie
	storage map[string]string

	// Reported by TextContent when set; lets tests simulate a page whose
	// text keeps churning (stability wait) or never changes (no progress).
	TextOverride func() string

	closed bool
}

func NewSim(pages map[string]*Page) *Sim {
	if pages == nil {
		pages = map[string]*Page{}
	}
	return &Sim{pages: pages, storage: map[string]string{}}
}

// AddPage registers or replaces a page. Replacing the current page re-parses
// it, so in-flight runs observe the new content on their next poll.
func (s *Sim) AddPage(url string, p *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = p
	if s.current == url {
		s.doc = parsePage(p)
	}
}

func parsePage(p *Page) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return nil
	}
	return doc
}

func (s *Sim) Navigate(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("environment closed")
	}
	p, ok := s.pages[url]
	if !ok {
		return fmt.Errorf("navigate %s: no such page", url)
	}
	s.current = url
	s.doc = parsePage(p)
	return nil
}

func (s *Sim) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Sim) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[s.current]; ok {
		return p.Title
	}
	return ""
}

func (s *Sim) TextContent() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TextOverride != nil {
		return s.TextOverride(), nil
	}
	if s.doc == nil {
		return "", nil
	}
	return strings.TrimSpace(s.doc.Text()), nil
}

func (s *Sim) Collect(selector string) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, fmt.Errorf("collect %q: no page loaded", selector)
	}
	var out []Element
	s.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		el := Element{
			Tag:  goquery.NodeName(sel),
			Text: strings.TrimSpace(sel.Text()),
		}
		if cls, ok := sel.Attr("class"); ok {
			el.Attr = cls
		}
		out = append(out, el)
	})
	return out, nil
}

func (s *Sim) Extract(fields []Field) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, fmt.Errorf("extract: no page loaded")
	}
	out := map[string]any{}
	for _, f := range fields {
		if strings.TrimSpace(f.Selector) == "" {
			// Locator-free fields need model assistance, which the simulated
			// environment does not provide.
			continue
		}
		sel := s.doc.Find(f.Selector).First()
		if sel.Length() == 0 {
			continue
		}
		out[f.Name] = strings.TrimSpace(sel.Text())
	}
	return out, nil
}

// Click follows the first matching anchor's href when present; other matches
// count as a click with no navigation. A selector matching nothing reports
// false so repair actions can try alternatives.
func (s *Sim) Click(selector string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return false, fmt.Errorf("click %q: no page loaded", selector)
	}
	sel := s.doc.Find(selector).First()
	if sel.Length() == 0 {
		s.mu.Unlock()
		return false, nil
	}
	href, ok := sel.Attr("href")
	s.mu.Unlock()
	if ok && strings.TrimSpace(href) != "" {
		if err := s.Navigate(href); err != nil {
			return false, nil
		}
	}
	return true, nil
}

func (s *Sim) TypeText(selector, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return fmt.Errorf("type into %q: no page loaded", selector)
	}
	if s.doc.Find(selector).Length() == 0 {
		return fmt.Errorf("type into %q: no matching element", selector)
	}
	s.storage["sim.typed."+selector] = text
	return nil
}

func (s *Sim) Submit(selector string) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return fmt.Errorf("submit %q: no page loaded", selector)
	}
	sel := s.doc.Find(selector).First()
	if sel.Length() == 0 {
		s.mu.Unlock()
		return fmt.Errorf("submit %q: no matching element", selector)
	}
	action, ok := sel.Attr("action")
	s.mu.Unlock()
	if ok && strings.TrimSpace(action) != "" {
		return s.Navigate(action)
	}
	return nil
}

func (s *Sim) PressKey(string) error { return nil }

func (s *Sim) ScrollToBottom() error { return nil }

func (s *Sim) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pages[s.current]; ok {
		s.doc = parsePage(p)
	}
	return nil
}

func (s *Sim) Wait(time.Duration) {
	// Simulated time: waiting is instantaneous.
}

func (s *Sim) Cookies() []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Cookie{}, s.cookies...)
}

func (s *Sim) SetCookie(c Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cookies {
		if s.cookies[i].Name == c.Name {
			s.cookies[i] = c
			return
		}
	}
	s.cookies = append(s.cookies, c)
}

func (s *Sim) ClearCookies() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = nil
}

func (s *Sim) LocalStorage() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.storage))
	for k, v := range s.storage {
		out[k] = v
	}
	return out
}

func (s *Sim) SetLocalStorageItem(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage[key] = value
}

func (s *Sim) ClearLocalStorage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = map[string]string{}
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
