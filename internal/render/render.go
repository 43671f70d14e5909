package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.chatroom/internal/model"
)

//go:embed views/*.html
var views embed.FS

var funcs = template.FuncMap{
	"presenceText": PresenceText,
}

type Page struct {
	Presence int
	Username string
}

type historyView struct {
	Messages []model.Message
	More     bool
	Next     model.MessageID
}

// Template renders both full pages (as an echo.Renderer) and the fragments
// pushed over websockets.
type Template struct {
	mu        sync.RWMutex
	templates *template.Template
	dir       string
	watcher   *fsnotify.Watcher
}

// New parses the views compiled into the binary.
func New() (*Template, error) {
	templates, err := template.New("").Funcs(funcs).ParseFS(views, "views/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing embedded views: %w", err)
	}
	return &Template{templates: templates}, nil
}

// NewFromDir parses views from disk so they can be reloaded with Watch.
func NewFromDir(dir string) (*Template, error) {
	t := &Template{dir: dir}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Template) reload() error {
	templates, err := template.New("").Funcs(funcs).ParseGlob(filepath.Join(t.dir, "*.html"))
	if err != nil {
		return fmt.Errorf("parsing views in %s: %w", t.dir, err)
	}
	t.mu.Lock()
	t.templates = templates
	t.mu.Unlock()
	return nil
}

func (t *Template) Watch() error {
	if t.dir == "" {
		return fmt.Errorf("watching embedded views is not supported")
	}

	var err error
	t.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-t.watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					log.Infof("modified view: %s", event.Name)
					if err := t.reload(); err != nil {
						log.Errorf("reloading views: %+v", err)
					}
				}
			case err, ok := <-t.watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("watcher: %+v", err)
			}
		}
	}()

	if err := t.watcher.Add(t.dir); err != nil {
		return fmt.Errorf("watching %s: %w", t.dir, err)
	}
	return nil
}

func (t *Template) Close() {
	if t.watcher != nil {
		t.watcher.Close()
	}
}

func (t *Template) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return t.execute(w, name, data)
}

func (t *Template) execute(w io.Writer, name string, data interface{}) error {
	t.mu.RLock()
	templates := t.templates
	t.mu.RUnlock()
	return templates.ExecuteTemplate(w, name, data)
}

func (t *Template) fragment(name string, data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.execute(&buf, name, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// Message renders a message to be prepended to every client's history.
func (t *Template) Message(message model.Message) ([]byte, error) {
	return t.fragment("message_oob", message)
}

func (t *Template) Presence(count int) ([]byte, error) {
	return t.fragment("presence", count)
}

// History renders one page of history followed by the infinite scroll
// sentinel when there may be more.
func (t *Template) History(messages []model.Message, next model.Cursor) ([]byte, error) {
	return t.fragment("history", newHistoryView(messages, next))
}

// HistoryReplace renders a history page that replaces the client's whole
// history region.
func (t *Template) HistoryReplace(messages []model.Message, next model.Cursor) ([]byte, error) {
	return t.fragment("history_oob", newHistoryView(messages, next))
}

func (t *Template) CurrentUser(username string) ([]byte, error) {
	return t.fragment("current_user", username)
}

func newHistoryView(messages []model.Message, next model.Cursor) historyView {
	view := historyView{Messages: messages}
	if next != nil {
		view.More = true
		view.Next = *next
	}
	return view
}

func PresenceText(count int) string {
	if count == 1 {
		return "1 user connected"
	}
	return fmt.Sprintf("%d users connected", count)
}
