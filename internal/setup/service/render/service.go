// Package render turns vectors into PNG grids and keeps them in the render
// store under a hash of the request.
package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"math"

	renderrepo "latentsetup/internal/setup/repository/render"
	"latentsetup/internal/vecvis"
)

type Request struct {
	Vector    []float64 `json:"vector"`
	Rows      int       `json:"rows,omitempty"`
	Spacing   *float64  `json:"spacing,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	MinValues []float64 `json:"min_values,omitempty"`
	MaxValues []float64 `json:"max_values,omitempty"`
}

func (r Request) options() vecvis.Options {
	opts := vecvis.NewOptions()
	if r.Rows > 0 {
		opts.Rows = r.Rows
	}
	if r.Spacing != nil {
		opts.Spacing = *r.Spacing
	}
	opts.Width = r.Width
	opts.Height = r.Height
	opts.MinValues = r.MinValues
	opts.MaxValues = r.MaxValues
	return opts
}

type Result struct {
	Key    string      `json:"key"`
	URL    string      `json:"url,omitempty"`
	Grid   vecvis.Grid `json:"grid"`
	PNG    []byte      `json:"-"`
	Cached bool        `json:"cached"`
}

// Empty reports whether there was nothing to draw.
func (r Result) Empty() bool {
	return r.Grid.Width <= 0 || r.Grid.Height <= 0
}

type Service struct {
	store renderrepo.Store
}

func New(store renderrepo.Store) *Service {
	return &Service{store: store}
}

func (s *Service) Render(ctx context.Context, req Request) (Result, error) {
	opts := req.options()
	grid := vecvis.Layout(len(req.Vector), opts)
	if err := grid.Check(); err != nil {
		return Result{}, err
	}
	key := requestKey(req, opts)
	res := Result{Key: key, Grid: grid}
	if res.Empty() {
		return res, nil
	}

	if s.store != nil {
		raw, err := s.store.Get(ctx, key)
		switch {
		case err == nil:
			res.PNG = raw
			res.Cached = true
			res.URL = s.url(ctx, key)
			return res, nil
		case !errors.Is(err, renderrepo.ErrNotFound):
			log.Printf("render: store get %s failed: %v", key, err)
		}
	}

	img, err := vecvis.Render(req.Vector, opts)
	if err != nil {
		return Result{}, err
	}
	var buf bytes.Buffer
	if err := vecvis.EncodePNG(&buf, img); err != nil {
		return Result{}, fmt.Errorf("encode png: %w", err)
	}
	res.PNG = buf.Bytes()

	if s.store != nil {
		if err := s.store.Put(ctx, key, res.PNG); err != nil {
			log.Printf("render: store put %s failed: %v", key, err)
			return res, nil
		}
		res.URL = s.url(ctx, key)
	}
	return res, nil
}

// Get returns a previously rendered image.
func (s *Service) Get(ctx context.Context, key string) ([]byte, error) {
	if s.store == nil {
		return nil, renderrepo.ErrNotFound
	}
	return s.store.Get(ctx, key)
}

func (s *Service) url(ctx context.Context, key string) string {
	u, err := s.store.GetURL(ctx, key)
	if err != nil {
		log.Printf("render: url for %s failed: %v", key, err)
		return ""
	}
	return u
}

func requestKey(req Request, opts vecvis.Options) string {
	h := sha256.New()
	writeInts(h, len(req.Vector), opts.Rows, opts.Width, opts.Height, len(opts.MinValues), len(opts.MaxValues))
	writeFloats(h, opts.Spacing)
	writeFloats(h, req.Vector...)
	writeFloats(h, opts.MinValues...)
	writeFloats(h, opts.MaxValues...)
	return hex.EncodeToString(h.Sum(nil))
}

func writeInts(w io.Writer, vs ...int) {
	var b [8]byte
	for _, v := range vs {
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		_, _ = w.Write(b[:])
	}
}

func writeFloats(w io.Writer, vs ...float64) {
	var b [8]byte
	for _, v := range vs {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		_, _ = w.Write(b[:])
	}
}
