package stream

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	"image/png"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder
)

// CoverSize is the edge length of served covers.
const CoverSize = 256

var iconSizes = []string{"256x256", "512x512", "192x192", "128x128", "96x96", "64x64", "48x48"}

var iconExts = []string{".png", ".webp", ".jpg", ".jpeg", ".gif"}

// DefaultIconDirs returns the icon theme roots searched for covers.
func DefaultIconDirs() []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "icons"))
	}
	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		dataDirs = "/usr/local/share:/usr/share"
	}
	for _, d := range filepath.SplitList(dataDirs) {
		dirs = append(dirs, filepath.Join(d, "icons"))
	}
	return append(dirs, "/usr/share/pixmaps")
}

// IconResolver finds icon files by name in freedesktop icon theme directories.
type IconResolver struct {
	dirs []string
}

// NewIconResolver searches dirs in order.
func NewIconResolver(dirs ...string) *IconResolver {
	return &IconResolver{dirs: dirs}
}

// Find returns the path of the best raster icon named name.
func (r *IconResolver) Find(name string) (string, bool) {
	if filepath.IsAbs(name) {
		if isFile(name) {
			return name, true
		}
		return "", false
	}
	for _, dir := range r.dirs {
		for _, ext := range iconExts {
			for _, size := range iconSizes {
				p := filepath.Join(dir, "hicolor", size, "apps", name+ext)
				if isFile(p) {
					return p, true
				}
			}
			if p := filepath.Join(dir, name+ext); isFile(p) {
				return p, true
			}
		}
	}
	return "", false
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(path.Base(r.URL.Path), ".png")
	if name == "" || name == "." || name == "/" || strings.Contains(name, "..") {
		http.NotFound(w, r)
		return
	}

	data, err := s.cover(name)
	if err != nil {
		log.Debug().Err(err).Str("icon", name).Msg("Cover unavailable")
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(data)
}

func (s *Server) cover(name string) ([]byte, error) {
	if v, ok := s.covers.Get(name); ok {
		return v.([]byte), nil
	}

	p, ok := s.icons.Find(name)
	if !ok {
		return nil, fmt.Errorf("icon %q not found", name)
	}
	data, err := renderCover(p, CoverSize)
	if err != nil {
		return nil, err
	}
	s.covers.SetDefault(name, data)
	return data, nil
}

// renderCover decodes an image file and re-encodes it as a size x size PNG,
// centered and scaled to fit.
func renderCover(p string, size int) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open icon: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode icon: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, fit(src.Bounds(), size), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode cover: %w", err)
	}
	return buf.Bytes(), nil
}

// fit returns the rectangle inside a size x size square that keeps b's aspect ratio.
func fit(b image.Rectangle, size int) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return image.Rect(0, 0, size, size)
	}
	nw, nh := size, size
	if w > h {
		nh = h * size / w
	} else {
		nw = w * size / h
	}
	x, y := (size-nw)/2, (size-nh)/2
	return image.Rect(x, y, x+nw, y+nh)
}
