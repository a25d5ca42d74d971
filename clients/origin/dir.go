package origin

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tinklegames/tinkle-proxy-service/logging"
)

const indexFile = "index.html"

// DirOrigin serves own assets from a local directory
type DirOrigin struct {
	root         string
	maxBodyBytes int64

	*logging.ServiceLogger
}

var _ Origin = (*DirOrigin)(nil)

func NewDirOrigin(root string, maxBodyBytes int64, logger *logging.ServiceLogger) *DirOrigin {
	return &DirOrigin{
		root:          root,
		maxBodyBytes:  maxBodyBytes,
		ServiceLogger: logger,
	}
}

func textResponse(status int) *Response {
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{
		Status: status,
		Header: header,
		Body:   []byte(http.StatusText(status)),
	}
}

// Fetch reads the file named by the path of requestURI, directories
// resolve to their index.html. Missing files are a 404 response, not an error.
func (o *DirOrigin) Fetch(ctx context.Context, method string, requestURI string, body io.Reader) (*Response, error) {
	if method != http.MethodGet && method != http.MethodHead {
		return textResponse(http.StatusMethodNotAllowed), nil
	}

	parsed, err := url.ParseRequestURI(requestURI)
	if err != nil {
		return textResponse(http.StatusBadRequest), nil
	}

	// Clean of a rooted path never climbs above the root
	name := filepath.Join(o.root, filepath.FromSlash(path.Clean("/"+parsed.Path)))

	info, err := os.Stat(name)
	if err == nil && info.IsDir() {
		name = filepath.Join(name, indexFile)
		info, err = os.Stat(name)
	}
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		o.Logger.Trace().
			Str("path", parsed.Path).
			Msg("asset not found in static directory")
		return textResponse(http.StatusNotFound), nil
	}
	if err != nil {
		return nil, err
	}

	if info.Size() > o.maxBodyBytes {
		return nil, ErrResponseTooLarge
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", contentTypeOf(name, data))
	header.Set("Content-Length", strconv.Itoa(len(data)))
	header.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	return &Response{
		Status: http.StatusOK,
		Header: header,
		Body:   data,
	}, nil
}

// contentTypeOf prefers the extension and falls back to sniffing the content
func contentTypeOf(name string, data []byte) string {
	if byExtension := mime.TypeByExtension(filepath.Ext(name)); byExtension != "" {
		return byExtension
	}

	return mimetype.Detect(data).String()
}
