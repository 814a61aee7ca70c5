package livereload

import (
	"bytes"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

// scriptTag is inserted into served HTML pages.
var scriptTag = []byte(`<script src="` + ScriptPath + `"></script>`)

// staticHandler serves files below root. HTML pages get the client script
// injected; everything else is served by http.FileServer.
type staticHandler struct {
	fs     http.FileSystem
	files  http.Handler
	inject bool
}

func newStaticHandler(root string, inject bool) http.Handler {
	fs := http.Dir(root)

	return &staticHandler{
		fs:     fs,
		files:  http.FileServer(fs),
		inject: inject,
	}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Browsers must pick up rebuilt assets immediately.
	w.Header().Set("Cache-Control", "no-cache")

	if !h.inject || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		h.files.ServeHTTP(w, r)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if strings.HasSuffix(r.URL.Path, "/") {
		name = path.Join(name, "index.html")
	}

	if !isHTML(name) {
		h.files.ServeHTTP(w, r)
		return
	}

	page, modTime, ok := h.readFile(name)
	if !ok {
		h.files.ServeHTTP(w, r)
		return
	}

	body := InjectScript(page)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))

	if !modTime.IsZero() {
		w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	}

	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	_, _ = w.Write(body)
}

func (h *staticHandler) readFile(name string) ([]byte, time.Time, bool) {
	f, err := h.fs.Open(name)
	if err != nil {
		return nil, time.Time{}, false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return nil, time.Time{}, false
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, false
	}

	return data, info.ModTime(), true
}

func isHTML(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".html" || ext == ".htm"
}

// InjectScript inserts the client script tag before the closing body tag,
// or appends it when the page has none. Pages that already reference the
// script are returned unchanged.
func InjectScript(page []byte) []byte {
	if bytes.Contains(page, []byte(ScriptPath)) {
		return page
	}

	idx := bytes.LastIndex(asciiLower(page), []byte("</body>"))
	if idx < 0 {
		out := make([]byte, 0, len(page)+len(scriptTag))
		out = append(out, page...)

		return append(out, scriptTag...)
	}

	out := make([]byte, 0, len(page)+len(scriptTag))
	out = append(out, page[:idx]...)
	out = append(out, scriptTag...)

	return append(out, page[idx:]...)
}

// asciiLower lowercases ASCII letters only, keeping byte offsets intact.
func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))

	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}

		out[i] = c
	}

	return out
}
